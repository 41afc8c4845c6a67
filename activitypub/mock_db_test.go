package activitypub

import (
	"sort"
	"sync"
	"time"

	"github.com/deemkeen/solopub/domain"
	"github.com/google/uuid"
)

// MockDatabase is an in-memory implementation of the Database interface for
// testing. It stores records in maps and mirrors the real store's contract:
// reads return (nil, nil) when nothing matches, creates report duplicates.
type MockDatabase struct {
	mu sync.RWMutex

	RemoteByURI     map[string]*domain.RemoteActor
	Activities      map[string]*domain.Activity // by ActivityURI
	ActivitiesByObj map[string]*domain.Activity
	Notes           map[uuid.UUID]*domain.Note
	NotesByURI      map[string]*domain.Note
	FollowsByURI    map[string]*domain.Follow
	Deliveries      map[uuid.UUID]*domain.DeliveryJob

	// Error injection for testing error handling. ForceError fails every
	// operation; FollowError fails CreateFollow only.
	ForceError  error
	FollowError error
}

func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		RemoteByURI:     make(map[string]*domain.RemoteActor),
		Activities:      make(map[string]*domain.Activity),
		ActivitiesByObj: make(map[string]*domain.Activity),
		Notes:           make(map[uuid.UUID]*domain.Note),
		NotesByURI:      make(map[string]*domain.Note),
		FollowsByURI:    make(map[string]*domain.Follow),
		Deliveries:      make(map[uuid.UUID]*domain.DeliveryJob),
	}
}

// SetForceError sets an error to be returned by all operations
func (m *MockDatabase) SetForceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ForceError = err
}

func (m *MockDatabase) CreateRemoteActor(actor *domain.RemoteActor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	m.RemoteByURI[actor.ActorURI] = actor
	return nil
}

func (m *MockDatabase) ReadRemoteActorByURI(uri string) (*domain.RemoteActor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.RemoteByURI[uri], nil
}

func (m *MockDatabase) UpdateRemoteActor(actor *domain.RemoteActor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	m.RemoteByURI[actor.ActorURI] = actor
	return nil
}

func (m *MockDatabase) DeleteRemoteActorByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	delete(m.RemoteByURI, uri)
	return nil
}

func (m *MockDatabase) CreateActivity(activity *domain.Activity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return false, m.ForceError
	}
	if _, exists := m.Activities[activity.ActivityURI]; exists {
		return false, nil
	}
	m.Activities[activity.ActivityURI] = activity
	if activity.ObjectURI != "" {
		m.ActivitiesByObj[activity.ObjectURI] = activity
	}
	return true, nil
}

func (m *MockDatabase) ReadActivityByURI(uri string) (*domain.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.Activities[uri], nil
}

func (m *MockDatabase) ReadActivityByObjectURI(uri string) (*domain.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.ActivitiesByObj[uri], nil
}

func (m *MockDatabase) TombstoneActivityByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if activity, ok := m.Activities[uri]; ok {
		activity.Tombstoned = true
		activity.RawJSON = ""
	}
	return nil
}

func (m *MockDatabase) DeleteActivityByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if activity, ok := m.Activities[uri]; ok {
		if activity.ObjectURI != "" {
			delete(m.ActivitiesByObj, activity.ObjectURI)
		}
		delete(m.Activities, uri)
	}
	return nil
}

func (m *MockDatabase) ReadLocalActivities(limit, offset int) ([]domain.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	var local []domain.Activity
	for _, activity := range m.Activities {
		if activity.Local {
			local = append(local, *activity)
		}
	}
	sort.Slice(local, func(i, j int) bool {
		return local[i].CreatedAt.After(local[j].CreatedAt)
	})
	if offset >= len(local) {
		return nil, nil
	}
	local = local[offset:]
	if len(local) > limit {
		local = local[:limit]
	}
	return local, nil
}

func (m *MockDatabase) CountLocalActivities() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	count := 0
	for _, activity := range m.Activities {
		if activity.Local {
			count++
		}
	}
	return count, nil
}

func (m *MockDatabase) CreateNote(note *domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	m.Notes[note.Id] = note
	m.NotesByURI[note.ObjectURI] = note
	return nil
}

func (m *MockDatabase) ReadNoteById(id uuid.UUID) (*domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.Notes[id], nil
}

func (m *MockDatabase) ReadNoteByObjectURI(uri string) (*domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.NotesByURI[uri], nil
}

func (m *MockDatabase) TombstoneNoteByObjectURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if note, ok := m.NotesByURI[uri]; ok {
		note.Tombstoned = true
		note.Content = ""
	}
	return nil
}

func (m *MockDatabase) ReadNotes(limit, offset int) ([]domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	var notes []domain.Note
	for _, note := range m.Notes {
		notes = append(notes, *note)
	}
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})
	if offset >= len(notes) {
		return nil, nil
	}
	notes = notes[offset:]
	if len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

func (m *MockDatabase) CountNotes() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	return len(m.Notes), nil
}

func (m *MockDatabase) CreateFollow(follow *domain.Follow) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return false, m.ForceError
	}
	if m.FollowError != nil {
		return false, m.FollowError
	}
	for _, existing := range m.FollowsByURI {
		if existing.ActorURI == follow.ActorURI && existing.TargetURI == follow.TargetURI {
			return false, nil
		}
	}
	m.FollowsByURI[follow.URI] = follow
	return true, nil
}

func (m *MockDatabase) ReadFollowByURI(uri string) (*domain.Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	return m.FollowsByURI[uri], nil
}

func (m *MockDatabase) ReadFollowByPair(actorURI, targetURI string) (*domain.Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	for _, follow := range m.FollowsByURI {
		if follow.ActorURI == actorURI && follow.TargetURI == targetURI {
			return follow, nil
		}
	}
	return nil, nil
}

func (m *MockDatabase) UpdateFollowState(uri, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if follow, ok := m.FollowsByURI[uri]; ok {
		follow.State = state
	}
	return nil
}

func (m *MockDatabase) DeleteFollowByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	delete(m.FollowsByURI, uri)
	return nil
}

func (m *MockDatabase) DeleteFollowByPair(actorURI, targetURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for uri, follow := range m.FollowsByURI {
		if follow.ActorURI == actorURI && follow.TargetURI == targetURI {
			delete(m.FollowsByURI, uri)
		}
	}
	return nil
}

func (m *MockDatabase) DeleteFollowsByActorURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for key, follow := range m.FollowsByURI {
		if follow.ActorURI == uri || follow.TargetURI == uri {
			delete(m.FollowsByURI, key)
		}
	}
	return nil
}

func (m *MockDatabase) ReadFollowers(targetURI, state string) ([]domain.Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	var followers []domain.Follow
	for _, follow := range m.FollowsByURI {
		if follow.TargetURI == targetURI && follow.State == state {
			followers = append(followers, *follow)
		}
	}
	return followers, nil
}

func (m *MockDatabase) ReadFollowing(actorURI, state string) ([]domain.Follow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	var following []domain.Follow
	for _, follow := range m.FollowsByURI {
		if follow.ActorURI == actorURI && follow.State == state {
			following = append(following, *follow)
		}
	}
	return following, nil
}

func (m *MockDatabase) EnqueueDelivery(job *domain.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	copied := *job
	m.Deliveries[job.Id] = &copied
	return nil
}

func (m *MockDatabase) ClaimDeliveries(limit int, leaseFor time.Duration) ([]domain.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return nil, m.ForceError
	}
	now := time.Now()
	var due []*domain.DeliveryJob
	for _, job := range m.Deliveries {
		if job.State == domain.DeliveryQueued && !job.NextAttemptAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]domain.DeliveryJob, 0, len(due))
	for _, job := range due {
		job.State = domain.DeliveryInFlight
		job.LeaseExpiresAt = now.Add(leaseFor)
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (m *MockDatabase) MarkDelivered(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if job, ok := m.Deliveries[id]; ok && job.State == domain.DeliveryInFlight {
		job.State = domain.DeliveryDelivered
	}
	return nil
}

func (m *MockDatabase) MarkDeadLettered(id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if job, ok := m.Deliveries[id]; ok && job.State == domain.DeliveryInFlight {
		job.State = domain.DeliveryDeadLettered
		job.LastError = reason
	}
	return nil
}

func (m *MockDatabase) RescheduleDelivery(id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if job, ok := m.Deliveries[id]; ok && job.State == domain.DeliveryInFlight {
		job.State = domain.DeliveryQueued
		job.Attempts = attempts
		job.NextAttemptAt = nextAttemptAt
		job.LastError = lastError
	}
	return nil
}

func (m *MockDatabase) ReleaseExpiredLeases() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	now := time.Now()
	released := 0
	for _, job := range m.Deliveries {
		if job.State == domain.DeliveryInFlight && job.LeaseExpiresAt.Before(now) {
			job.State = domain.DeliveryQueued
			released++
		}
	}
	return released, nil
}

// DeliveriesByState returns stored jobs in the given state, for assertions.
func (m *MockDatabase) DeliveriesByState(state string) []domain.DeliveryJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var jobs []domain.DeliveryJob
	for _, job := range m.Deliveries {
		if job.State == state {
			jobs = append(jobs, *job)
		}
	}
	return jobs
}
