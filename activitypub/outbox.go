package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/deemkeen/solopub/util"
	"github.com/google/uuid"
)

// Publisher builds this actor's outbound activities, records them and hands
// them to the dispatcher for fan-out.
type Publisher struct {
	db         Database
	conf       *util.AppConfig
	dispatcher *Dispatcher
	resolver   *Resolver
}

func NewPublisher(db Database, conf *util.AppConfig, dispatcher *Dispatcher, resolver *Resolver) *Publisher {
	return &Publisher{
		db:         db,
		conf:       conf,
		dispatcher: dispatcher,
		resolver:   resolver,
	}
}

// CreatePost publishes a new note: it mints note and activity ids, stores
// both records and queues one delivery per accepted follower.
func (p *Publisher) CreatePost(content, inReplyTo string) (*domain.Activity, error) {
	content = strings.TrimSpace(util.NormalizeInput(content))
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedActivity)
	}

	actorURI := ActorIRI(p.conf)
	noteId := uuid.New()
	noteURI := NoteIRI(p.conf, noteId.String())
	createURI := ActivityIRI(p.conf, uuid.New().String())
	now := time.Now()

	note := &domain.Note{
		Id:           noteId,
		ObjectURI:    noteURI,
		Content:      content,
		InReplyToURI: inReplyTo,
		CreatedAt:    now,
	}
	if err := p.db.CreateNote(note); err != nil {
		return nil, fmt.Errorf("failed to store note: %w", err)
	}

	noteObject := map[string]interface{}{
		"id":           noteURI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      content,
		"published":    now.Format(time.RFC3339),
		"to":           []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":           []string{FollowersIRI(p.conf)},
	}
	if inReplyTo != "" {
		noteObject["inReplyTo"] = inReplyTo
	}

	create := map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        createURI,
		"type":      "Create",
		"actor":     actorURI,
		"published": now.Format(time.RFC3339),
		"to":        []string{"https://www.w3.org/ns/activitystreams#Public"},
		"cc":        []string{FollowersIRI(p.conf)},
		"object":    noteObject,
	}

	raw, err := json.Marshal(create)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Create: %w", err)
	}

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  createURI,
		ActivityType: "Create",
		ActorURI:     actorURI,
		ObjectURI:    noteURI,
		RawJSON:      string(raw),
		Local:        true,
		CreatedAt:    now,
	}
	if _, err := p.db.CreateActivity(activity); err != nil {
		return nil, fmt.Errorf("failed to store activity: %w", err)
	}

	followers, err := p.db.ReadFollowers(actorURI, domain.FollowAccepted)
	if err != nil {
		return nil, fmt.Errorf("failed to read followers: %w", err)
	}

	recipients := make([]string, 0, len(followers))
	for _, follower := range followers {
		recipients = append(recipients, follower.ActorURI)
	}
	if err := p.dispatcher.Enqueue(createURI, raw, recipients); err != nil {
		return nil, fmt.Errorf("failed to queue deliveries: %w", err)
	}

	log.Printf("Outbox: Published note %s to %d followers", noteURI, len(recipients))
	return activity, nil
}

// Follow asks to follow a remote actor. The edge starts pending and moves to
// accepted or rejected when the remote side answers.
func (p *Publisher) Follow(targetActorURI string) (*domain.Activity, error) {
	actorURI := ActorIRI(p.conf)

	existing, err := p.db.ReadFollowByPair(actorURI, targetActorURI)
	if err != nil {
		return nil, fmt.Errorf("failed to look up follow: %w", err)
	}
	if existing != nil {
		if existing.State == domain.FollowPending || existing.State == domain.FollowAccepted {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyFollowing, targetActorURI)
		}
		// A rejected edge does not block a later retry.
		if err := p.db.DeleteFollowByURI(existing.URI); err != nil {
			return nil, fmt.Errorf("failed to clear rejected follow: %w", err)
		}
	}

	target, err := p.resolver.Resolve(targetActorURI)
	if err != nil {
		return nil, err
	}

	followURI := ActivityIRI(p.conf, uuid.New().String())
	follow := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       followURI,
		"type":     "Follow",
		"actor":    actorURI,
		"object":   targetActorURI,
	}

	raw, err := json.Marshal(follow)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Follow: %w", err)
	}

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  followURI,
		ActivityType: "Follow",
		ActorURI:     actorURI,
		ObjectURI:    targetActorURI,
		RawJSON:      string(raw),
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if _, err := p.db.CreateActivity(activity); err != nil {
		return nil, fmt.Errorf("failed to store activity: %w", err)
	}

	edge := &domain.Follow{
		Id:        uuid.New(),
		ActorURI:  actorURI,
		TargetURI: targetActorURI,
		URI:       followURI,
		State:     domain.FollowPending,
		CreatedAt: time.Now(),
	}
	if _, err := p.db.CreateFollow(edge); err != nil {
		return nil, fmt.Errorf("failed to store follow: %w", err)
	}

	if err := p.dispatcher.EnqueueToInbox(followURI, raw, target.InboxURI); err != nil {
		return nil, err
	}

	log.Printf("Outbox: Requested to follow %s", targetActorURI)
	return activity, nil
}

// Unfollow undoes an earlier Follow. The Undo references the original Follow
// id so the remote side can match it against its own records.
func (p *Publisher) Unfollow(targetActorURI string) (*domain.Activity, error) {
	actorURI := ActorIRI(p.conf)

	edge, err := p.db.ReadFollowByPair(actorURI, targetActorURI)
	if err != nil {
		return nil, fmt.Errorf("failed to look up follow: %w", err)
	}
	if edge == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFollowing, targetActorURI)
	}

	undoURI := ActivityIRI(p.conf, uuid.New().String())
	undo := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       undoURI,
		"type":     "Undo",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     edge.URI,
			"type":   "Follow",
			"actor":  actorURI,
			"object": targetActorURI,
		},
	}

	raw, err := json.Marshal(undo)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Undo: %w", err)
	}

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  undoURI,
		ActivityType: "Undo",
		ActorURI:     actorURI,
		ObjectURI:    edge.URI,
		RawJSON:      string(raw),
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if _, err := p.db.CreateActivity(activity); err != nil {
		return nil, fmt.Errorf("failed to store activity: %w", err)
	}

	if err := p.db.DeleteFollowByURI(edge.URI); err != nil {
		return nil, fmt.Errorf("failed to delete follow: %w", err)
	}

	// The local state change is already committed; a target that fails to
	// resolve dead-letters the delivery instead of failing the request.
	if err := p.dispatcher.Enqueue(undoURI, raw, []string{targetActorURI}); err != nil {
		return nil, err
	}

	log.Printf("Outbox: Unfollowed %s", targetActorURI)
	return activity, nil
}

// buildAccept constructs the Accept envelope confirming a remote Follow. The
// original Follow is embedded so the follower can match the confirmation.
func buildAccept(conf *util.AppConfig, followID, followerURI string) (string, []byte, error) {
	actorURI := ActorIRI(conf)
	acceptURI := ActivityIRI(conf, uuid.New().String())

	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       acceptURI,
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   "Follow",
			"actor":  followerURI,
			"object": actorURI,
		},
	}

	raw, err := json.Marshal(accept)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal Accept: %w", err)
	}
	return acceptURI, raw, nil
}
