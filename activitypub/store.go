package activitypub

import (
	"net/http"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/google/uuid"
)

// Database is the storage surface the federation layer depends on. db.DB
// implements it; tests use an in-memory mock. Read methods return (nil, nil)
// when no record exists.
type Database interface {
	CreateRemoteActor(actor *domain.RemoteActor) error
	ReadRemoteActorByURI(uri string) (*domain.RemoteActor, error)
	UpdateRemoteActor(actor *domain.RemoteActor) error
	DeleteRemoteActorByURI(uri string) error

	// CreateActivity reports false when the activity id was already recorded.
	CreateActivity(activity *domain.Activity) (bool, error)
	ReadActivityByURI(uri string) (*domain.Activity, error)
	ReadActivityByObjectURI(uri string) (*domain.Activity, error)
	TombstoneActivityByURI(uri string) error
	DeleteActivityByURI(uri string) error
	ReadLocalActivities(limit, offset int) ([]domain.Activity, error)
	CountLocalActivities() (int, error)

	CreateNote(note *domain.Note) error
	ReadNoteById(id uuid.UUID) (*domain.Note, error)
	ReadNoteByObjectURI(uri string) (*domain.Note, error)
	TombstoneNoteByObjectURI(uri string) error
	ReadNotes(limit, offset int) ([]domain.Note, error)
	CountNotes() (int, error)

	// CreateFollow reports false when an edge for the ordered pair exists.
	CreateFollow(follow *domain.Follow) (bool, error)
	ReadFollowByURI(uri string) (*domain.Follow, error)
	ReadFollowByPair(actorURI, targetURI string) (*domain.Follow, error)
	UpdateFollowState(uri, state string) error
	DeleteFollowByURI(uri string) error
	DeleteFollowByPair(actorURI, targetURI string) error
	DeleteFollowsByActorURI(uri string) error
	ReadFollowers(targetURI, state string) ([]domain.Follow, error)
	ReadFollowing(actorURI, state string) ([]domain.Follow, error)

	EnqueueDelivery(job *domain.DeliveryJob) error
	ClaimDeliveries(limit int, leaseFor time.Duration) ([]domain.DeliveryJob, error)
	MarkDelivered(id uuid.UUID) error
	MarkDeadLettered(id uuid.UUID, reason string) error
	RescheduleDelivery(id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	ReleaseExpiredLeases() (int, error)
}

// HTTPClient abstracts the HTTP transport for actor fetches and deliveries
// so tests can run without a network.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewDefaultHTTPClient returns the production HTTP client with a timeout.
func NewDefaultHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}
