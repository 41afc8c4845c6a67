package domain

import (
	"github.com/google/uuid"
	"time"
)

// RemoteActor represents a cached federated user
type RemoteActor struct {
	Id            uuid.UUID
	Username      string
	Domain        string
	ActorURI      string
	DisplayName   string
	Summary       string
	InboxURI      string
	OutboxURI     string
	PublicKeyPem  string
	LastFetchedAt time.Time
}

// Follow states. A follow edge is created pending and moves to accepted or
// rejected exactly once.
const (
	FollowPending  = "pending"
	FollowAccepted = "accepted"
	FollowRejected = "rejected"
)

// Follow represents a follow edge between two actors, identified by URIs.
// At most one edge exists per ordered (ActorURI, TargetURI) pair.
type Follow struct {
	Id        uuid.UUID
	ActorURI  string // the follower
	TargetURI string // the actor being followed
	URI       string // ActivityPub Follow activity URI
	State     string
	CreatedAt time.Time
}

// Activity represents an ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Local        bool // true if originated from this server
	Tombstoned   bool
	CreatedAt    time.Time
}

// Delivery job states. Delivered and dead_lettered are terminal.
const (
	DeliveryQueued       = "queued"
	DeliveryInFlight     = "in_flight"
	DeliveryDelivered    = "delivered"
	DeliveryFailed       = "failed"
	DeliveryDeadLettered = "dead_lettered"
)

// DeliveryJob represents one pending delivery of an activity to one inbox
type DeliveryJob struct {
	Id             uuid.UUID
	ActivityURI    string
	InboxURI       string
	ActivityJSON   string // the complete activity to deliver
	Attempts       int
	NextAttemptAt  time.Time
	State          string
	LeaseExpiresAt time.Time
	LastError      string
	CreatedAt      time.Time
}
