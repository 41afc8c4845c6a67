package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRemoteActorStruct(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	actor := RemoteActor{
		Id:            id,
		Username:      "remoteuser",
		Domain:        "example.com",
		ActorURI:      "https://example.com/users/remoteuser",
		DisplayName:   "Remote User",
		Summary:       "Remote user bio",
		InboxURI:      "https://example.com/users/remoteuser/inbox",
		OutboxURI:     "https://example.com/users/remoteuser/outbox",
		PublicKeyPem:  "-----BEGIN PUBLIC KEY-----",
		LastFetchedAt: now,
	}

	if actor.Id != id {
		t.Errorf("Expected Id %s, got %s", id, actor.Id)
	}
	if actor.Username != "remoteuser" {
		t.Errorf("Expected Username 'remoteuser', got '%s'", actor.Username)
	}
	if actor.Domain != "example.com" {
		t.Errorf("Expected Domain 'example.com', got '%s'", actor.Domain)
	}
	if actor.InboxURI != "https://example.com/users/remoteuser/inbox" {
		t.Errorf("Expected InboxURI 'https://example.com/users/remoteuser/inbox', got '%s'", actor.InboxURI)
	}
}

func TestFollowStates(t *testing.T) {
	if FollowPending != "pending" || FollowAccepted != "accepted" || FollowRejected != "rejected" {
		t.Error("Unexpected follow state constants")
	}
}

func TestFollowStruct(t *testing.T) {
	follow := Follow{
		Id:        uuid.New(),
		ActorURI:  "https://remote.example/bob",
		TargetURI: "https://example.com/alice",
		URI:       "https://remote.example/follows/123",
		State:     FollowPending,
		CreatedAt: time.Now(),
	}

	if follow.ActorURI != "https://remote.example/bob" {
		t.Errorf("Expected follower URI, got '%s'", follow.ActorURI)
	}
	if follow.TargetURI != "https://example.com/alice" {
		t.Errorf("Expected target URI, got '%s'", follow.TargetURI)
	}
	if follow.State != FollowPending {
		t.Errorf("Expected pending state, got '%s'", follow.State)
	}
}

func TestDeliveryStates(t *testing.T) {
	states := []string{DeliveryQueued, DeliveryInFlight, DeliveryDelivered, DeliveryFailed, DeliveryDeadLettered}
	seen := make(map[string]bool)
	for _, state := range states {
		if state == "" {
			t.Error("Delivery state constant should not be empty")
		}
		if seen[state] {
			t.Errorf("Duplicate delivery state %s", state)
		}
		seen[state] = true
	}
}
