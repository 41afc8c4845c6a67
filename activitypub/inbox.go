package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/deemkeen/solopub/util"
	"github.com/google/uuid"
)

// Activity is the generic envelope every inbound activity is parsed into
// before dispatching on its type.
type Activity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  interface{} `json:"object"`
}

// Processor applies verified inbound activities to local state. Every
// activity passes the dedup gate first: an id seen before returns success
// without side effects, so replayed deliveries are no-ops.
type Processor struct {
	db         Database
	conf       *util.AppConfig
	dispatcher *Dispatcher
	resolver   *Resolver
}

func NewProcessor(db Database, conf *util.AppConfig, dispatcher *Dispatcher, resolver *Resolver) *Processor {
	return &Processor{
		db:         db,
		conf:       conf,
		dispatcher: dispatcher,
		resolver:   resolver,
	}
}

// Process handles one inbound activity whose HTTP signature already verified
// as actorURI. The raw body is kept for auditability.
func (p *Processor) Process(actorURI string, body []byte) error {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedActivity, err)
	}
	if activity.ID == "" || activity.Type == "" || activity.Actor == "" {
		return fmt.Errorf("%w: missing id, type or actor", ErrMalformedActivity)
	}
	if activity.Actor != actorURI {
		return fmt.Errorf("%w: activity actor %s does not match signing actor %s", ErrSignatureInvalid, activity.Actor, actorURI)
	}

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    objectID(activity.Object),
		RawJSON:      string(body),
		Local:        false,
		CreatedAt:    time.Now(),
	}

	created, err := p.db.CreateActivity(record)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	if !created {
		log.Printf("Inbox: Activity %s already processed, skipping", activity.ID)
		return nil
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor)

	if err := p.apply(&activity, record); err != nil {
		// Unwind the dedup record, otherwise the sender's retry of this id
		// would be skipped with the side effect never applied.
		if delErr := p.db.DeleteActivityByURI(activity.ID); delErr != nil {
			log.Printf("Inbox: Failed to unwind activity %s: %v", activity.ID, delErr)
		}
		return err
	}
	return nil
}

// apply runs the per-type side effect of a newly recorded activity.
func (p *Processor) apply(activity *Activity, record *domain.Activity) error {
	switch activity.Type {
	case "Follow":
		return p.handleFollow(activity)
	case "Undo":
		return p.handleUndo(activity)
	case "Create":
		// Remote content is recorded above for auditability; this actor does
		// not mirror other actors' posts.
		return nil
	case "Delete":
		return p.handleDelete(activity)
	case "Like", "Announce":
		log.Printf("Inbox: Recorded %s of %s by %s", activity.Type, record.ObjectURI, activity.Actor)
		return nil
	case "Accept":
		return p.handleFollowResponse(activity, domain.FollowAccepted)
	case "Reject":
		return p.handleFollowResponse(activity, domain.FollowRejected)
	case "Update":
		return p.handleUpdate(activity)
	default:
		// Unknown types are recorded and acknowledged so new vocabulary from
		// other servers never breaks inbox processing.
		log.Printf("Inbox: Recorded unhandled activity type %s from %s", activity.Type, activity.Actor)
		return nil
	}
}

// handleFollow registers a follower edge and, unless follows need manual
// approval, queues an Accept back to the sender's inbox.
func (p *Processor) handleFollow(activity *Activity) error {
	target := objectID(activity.Object)
	if target != ActorIRI(p.conf) {
		log.Printf("Inbox: Follow %s targets %s, not us, ignoring", activity.ID, target)
		return nil
	}

	state := domain.FollowAccepted
	if p.conf.Conf.ManualApproval {
		state = domain.FollowPending
	}

	follow := &domain.Follow{
		Id:        uuid.New(),
		ActorURI:  activity.Actor,
		TargetURI: target,
		URI:       activity.ID,
		State:     state,
		CreatedAt: time.Now(),
	}

	created, err := p.db.CreateFollow(follow)
	if err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}
	if !created {
		log.Printf("Inbox: Follow edge for %s already exists", activity.Actor)
	}

	if p.conf.Conf.ManualApproval {
		log.Printf("Inbox: Follow from %s awaits manual approval", activity.Actor)
		return nil
	}

	// Re-confirming an existing edge is harmless; some servers retry Follows
	// with fresh ids when an Accept got lost.
	acceptURI, acceptJSON, err := buildAccept(p.conf, activity.ID, activity.Actor)
	if err != nil {
		return fmt.Errorf("failed to build Accept: %w", err)
	}
	if err := p.dispatcher.Enqueue(acceptURI, acceptJSON, []string{activity.Actor}); err != nil {
		return fmt.Errorf("failed to queue Accept: %w", err)
	}

	log.Printf("Inbox: Accepted follow from %s", activity.Actor)
	return nil
}

// handleUndo reverses a prior Follow. An Undo for an edge we no longer have
// is a no-op.
func (p *Processor) handleUndo(activity *Activity) error {
	followURI := objectID(activity.Object)

	var follow *domain.Follow
	var err error
	if followURI != "" {
		follow, err = p.db.ReadFollowByURI(followURI)
		if err != nil {
			return fmt.Errorf("failed to look up follow: %w", err)
		}
	}
	if follow == nil {
		// Some servers Undo with a reconstructed object whose id does not
		// match the original Follow; fall back to the edge itself.
		follow, err = p.db.ReadFollowByPair(activity.Actor, ActorIRI(p.conf))
		if err != nil {
			return fmt.Errorf("failed to look up follow: %w", err)
		}
	}
	if follow == nil {
		log.Printf("Inbox: Undo %s references no known follow, ignoring", activity.ID)
		return nil
	}
	if follow.ActorURI != activity.Actor {
		log.Printf("Inbox: Undo from %s references a follow by %s, ignoring", activity.Actor, follow.ActorURI)
		return nil
	}

	if err := p.db.DeleteFollowByURI(follow.URI); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	log.Printf("Inbox: Removed follow from %s", activity.Actor)
	return nil
}

// handleDelete tombstones the referenced record. An actor deleting itself
// takes its cached profile and all its follow edges with it.
func (p *Processor) handleDelete(activity *Activity) error {
	objectURI := objectID(activity.Object)
	if objectURI == "" {
		return fmt.Errorf("%w: Delete without an object id", ErrMalformedActivity)
	}

	if objectURI == activity.Actor {
		log.Printf("Inbox: Actor %s deleted their account", activity.Actor)
		if err := p.db.DeleteFollowsByActorURI(activity.Actor); err != nil {
			return fmt.Errorf("failed to delete follows: %w", err)
		}
		if err := p.db.DeleteRemoteActorByURI(activity.Actor); err != nil {
			return fmt.Errorf("failed to delete remote actor: %w", err)
		}
		return nil
	}

	existing, err := p.db.ReadActivityByURI(objectURI)
	if err != nil {
		return fmt.Errorf("failed to look up activity: %w", err)
	}
	if existing == nil {
		existing, err = p.db.ReadActivityByObjectURI(objectURI)
		if err != nil {
			return fmt.Errorf("failed to look up activity: %w", err)
		}
	}
	if existing == nil {
		log.Printf("Inbox: Delete for unknown object %s, ignoring", objectURI)
		return nil
	}
	if existing.ActorURI != activity.Actor {
		log.Printf("Inbox: Delete from %s for object authored by %s, ignoring", activity.Actor, existing.ActorURI)
		return nil
	}

	// Keep the id, drop the content: the tombstone still dedups any replay
	// of the original activity.
	if err := p.db.TombstoneActivityByURI(existing.ActivityURI); err != nil {
		return fmt.Errorf("failed to tombstone activity: %w", err)
	}

	log.Printf("Inbox: Tombstoned %s", existing.ActivityURI)
	return nil
}

// handleFollowResponse transitions one of our outbound Follows out of
// pending when the remote side answers with Accept or Reject.
func (p *Processor) handleFollowResponse(activity *Activity, state string) error {
	followURI := objectID(activity.Object)
	if followURI == "" {
		return fmt.Errorf("%w: %s without a follow id", ErrMalformedActivity, activity.Type)
	}

	follow, err := p.db.ReadFollowByURI(followURI)
	if err != nil {
		return fmt.Errorf("failed to look up follow: %w", err)
	}
	if follow == nil {
		log.Printf("Inbox: %s references unknown follow %s, ignoring", activity.Type, followURI)
		return nil
	}
	if follow.TargetURI != activity.Actor {
		log.Printf("Inbox: %s from %s for a follow of %s, ignoring", activity.Type, activity.Actor, follow.TargetURI)
		return nil
	}
	if follow.State != domain.FollowPending {
		log.Printf("Inbox: Follow %s already %s, ignoring %s", followURI, follow.State, activity.Type)
		return nil
	}

	if err := p.db.UpdateFollowState(follow.URI, state); err != nil {
		return fmt.Errorf("failed to update follow state: %w", err)
	}

	log.Printf("Inbox: Follow of %s is now %s", follow.TargetURI, state)
	return nil
}

// handleUpdate refreshes the cached profile when an actor edits it. Other
// object types stay recorded as received.
func (p *Processor) handleUpdate(activity *Activity) error {
	obj, ok := activity.Object.(map[string]interface{})
	if !ok {
		return nil
	}
	objType, _ := obj["type"].(string)
	if objType != "Person" && objType != "Service" && objType != "Application" {
		return nil
	}

	if _, err := p.resolver.Refresh(activity.Actor); err != nil {
		log.Printf("Inbox: Failed to refresh actor %s after Update: %v", activity.Actor, err)
	}
	return nil
}

// objectID extracts the object id whether the activity embeds the object or
// just references it by URI.
func objectID(object interface{}) string {
	switch obj := object.(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}
