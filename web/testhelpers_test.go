package web

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"testing"

	"github.com/deemkeen/solopub/activitypub"
	"github.com/deemkeen/solopub/domain"
	"github.com/deemkeen/solopub/util"
	"github.com/google/uuid"
)

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "example.com"
	conf.Conf.Username = "alice"
	conf.Conf.DisplayName = "Alice"
	conf.Conf.Summary = "test actor"
	conf.Conf.Secret = "test-secret"
	conf.Conf.DeliveryWorkers = 2
	return conf
}

// stubDB implements the handful of Database methods the HTTP layer reads.
// Calling anything else panics through the embedded nil interface, which is
// exactly what a handler test wants to hear.
type stubDB struct {
	activitypub.Database

	notes      map[uuid.UUID]*domain.Note
	activities []domain.Activity
	followers  []domain.Follow
	following  []domain.Follow
	jobs       []domain.DeliveryJob
}

func newStubDB() *stubDB {
	return &stubDB{notes: make(map[uuid.UUID]*domain.Note)}
}

func (s *stubDB) CountNotes() (int, error) {
	return len(s.notes), nil
}

func (s *stubDB) ReadNoteById(id uuid.UUID) (*domain.Note, error) {
	return s.notes[id], nil
}

func (s *stubDB) CreateNote(note *domain.Note) error {
	s.notes[note.Id] = note
	return nil
}

func (s *stubDB) ReadLocalActivities(limit, offset int) ([]domain.Activity, error) {
	if offset >= len(s.activities) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.activities) {
		end = len(s.activities)
	}
	return s.activities[offset:end], nil
}

func (s *stubDB) CountLocalActivities() (int, error) {
	return len(s.activities), nil
}

func (s *stubDB) CreateActivity(activity *domain.Activity) (bool, error) {
	s.activities = append(s.activities, *activity)
	return true, nil
}

func (s *stubDB) ReadFollowers(targetURI, state string) ([]domain.Follow, error) {
	return s.followers, nil
}

func (s *stubDB) ReadFollowing(actorURI, state string) ([]domain.Follow, error) {
	return s.following, nil
}

func (s *stubDB) ReadFollowByPair(actorURI, targetURI string) (*domain.Follow, error) {
	return nil, nil
}

func (s *stubDB) ReadRemoteActorByURI(uri string) (*domain.RemoteActor, error) {
	return nil, nil
}

func (s *stubDB) ReadNotes(limit, offset int) ([]domain.Note, error) {
	var notes []domain.Note
	for _, note := range s.notes {
		notes = append(notes, *note)
	}
	return notes, nil
}

func (s *stubDB) EnqueueDelivery(job *domain.DeliveryJob) error {
	s.jobs = append(s.jobs, *job)
	return nil
}

// noNetworkClient fails every request. Handler tests must never reach the
// network.
type noNetworkClient struct{}

func (noNetworkClient) Do(req *http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("no network in tests: %s", req.URL)
}

func generateServerKeys(t *testing.T) *activitypub.Keys {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	keys, err := activitypub.NewKeysFromPEM(string(privPEM), string(pubPEM))
	if err != nil {
		t.Fatalf("Failed to build keys: %v", err)
	}
	return keys
}

func newTestServer(t *testing.T) (*Server, *stubDB) {
	t.Helper()

	conf := testConf()
	db := newStubDB()
	keys := generateServerKeys(t)
	client := noNetworkClient{}

	resolver := activitypub.NewResolver(db, client)
	verifier := activitypub.NewVerifier(resolver)
	dispatcher := activitypub.NewDispatcher(db, conf, keys, resolver, client)
	processor := activitypub.NewProcessor(db, conf, dispatcher, resolver)
	publisher := activitypub.NewPublisher(db, conf, dispatcher, resolver)

	return NewServer(db, conf, keys, verifier, processor, publisher), db
}
