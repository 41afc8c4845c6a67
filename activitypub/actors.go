package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/deemkeen/solopub/util"
	"github.com/google/uuid"
)

// actorCacheTTL controls how long a fetched actor document is trusted before
// a lookup goes back to the remote server.
const actorCacheTTL = 24 * time.Hour

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Resolver maps actor URIs to their inbox and public key, caching results in
// the database. Used by the signature verifier and the delivery dispatcher.
type Resolver struct {
	db     Database
	client HTTPClient
}

func NewResolver(db Database, client HTTPClient) *Resolver {
	return &Resolver{db: db, client: client}
}

// Resolve returns the actor from cache when fresh, fetching otherwise.
func (r *Resolver) Resolve(actorURI string) (*domain.RemoteActor, error) {
	cached, err := r.db.ReadRemoteActorByURI(actorURI)
	if err == nil && cached != nil {
		if time.Since(cached.LastFetchedAt) < actorCacheTTL {
			return cached, nil
		}
	}

	return r.fetch(actorURI)
}

// Refresh bypasses the cache and fetches the actor document again. Called
// after a signature fails against a cached key (rotated-key defense).
func (r *Resolver) Refresh(actorURI string) (*domain.RemoteActor, error) {
	return r.fetch(actorURI)
}

// fetch retrieves the actor document from the remote server and stores it in
// the cache.
func (r *Resolver) fetch(actorURI string) (*domain.RemoteActor, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrActorUnresolvable, err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrActorUnresolvable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: actor fetch returned status %d", ErrActorUnresolvable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrActorUnresolvable, err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("%w: failed to parse actor JSON: %v", ErrActorUnresolvable, err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor missing required fields", ErrActorUnresolvable)
	}

	// The document must describe the actor we asked for
	if actor.ID != actorURI {
		return nil, fmt.Errorf("%w: actor document id %s does not match %s", ErrActorUnresolvable, actor.ID, actorURI)
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrActorUnresolvable, err)
	}

	remote := &domain.RemoteActor{
		Id:            uuid.New(),
		Username:      actor.PreferredUsername,
		Domain:        domainName,
		ActorURI:      actor.ID,
		DisplayName:   actor.Name,
		Summary:       actor.Summary,
		InboxURI:      actor.Inbox,
		OutboxURI:     actor.Outbox,
		PublicKeyPem:  actor.PublicKey.PublicKeyPem,
		LastFetchedAt: time.Now(),
	}

	// Store in cache; an already cached actor gets updated instead
	if err := r.db.CreateRemoteActor(remote); err != nil {
		if err := r.db.UpdateRemoteActor(remote); err != nil {
			return nil, fmt.Errorf("failed to store remote actor: %w", err)
		}
	}

	return remote, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}
