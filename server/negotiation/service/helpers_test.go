package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/common/infra/directory"
	"negotiation_server/server/negotiation/domain"
	"negotiation_server/server/negotiation/repository"
)

type fakeDirectory struct {
	mu      sync.Mutex
	missing map[string]bool
	unpaid  map[string]bool
	calls   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{missing: map[string]bool{}, unpaid: map[string]bool{}}
}

func (d *fakeDirectory) CheckParties(_ context.Context, p directory.Parties) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.missing[p.ContextID] {
		return errs.NotFound(p.ContextKind, p.ContextID)
	}
	return nil
}

func (d *fakeDirectory) IsPaidClient(_ context.Context, agencyID, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.unpaid[userID], nil
}

type publishedEvent struct {
	key     string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{key: key, payload: payload})
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.key)
	}
	return out
}

// recordingSubscriber accepts up to capacity events; capacity 0 means
// unbounded.
type recordingSubscriber struct {
	id       string
	capacity int
	mu       sync.Mutex
	events   []Event
}

func (s *recordingSubscriber) ID() string { return s.id }

func (s *recordingSubscriber) Deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && len(s.events) >= s.capacity {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSubscriber) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type testEnv struct {
	store     *repository.MemoryStore
	directory *fakeDirectory
	publisher *recordingPublisher
	rooms     *Broadcaster
	unread    *UnreadTracker
	sessions  *SessionRegistry
	log       *MessageLog
	payments  *PaymentWorkflow
	matrix    *VisibilityMatrix
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	dir := newFakeDirectory()
	pub := &recordingPublisher{}
	rooms := NewBroadcaster()
	unread := NewUnreadTracker(store, nil)
	sessions := NewSessionRegistry(store, dir, unread)
	log := NewMessageLog(sessions, store, rooms, unread, pub)
	return &testEnv{
		store:     store,
		directory: dir,
		publisher: pub,
		rooms:     rooms,
		unread:    unread,
		sessions:  sessions,
		log:       log,
		payments:  NewPaymentWorkflow(sessions, store, log, rooms, pub),
		matrix:    NewVisibilityMatrix(store, dir, pub),
	}
}

func hallKey(guestID string) domain.SessionKey {
	return domain.SessionKey{
		PartyAKind: domain.RoleGuest,
		PartyAID:   guestID,
		PartyBKind: domain.RoleOwner,
		PartyBID:   "owner-1",
		ContextID:  "hall-1",
	}
}

func agencyKey(userID string) domain.SessionKey {
	return domain.SessionKey{
		PartyAKind: domain.RoleUser,
		PartyAID:   userID,
		PartyBKind: domain.RoleAgency,
		PartyBID:   "agency-1",
		ContextID:  "agency-1",
	}
}

func (e *testEnv) session(t *testing.T, key domain.SessionKey) domain.Session {
	t.Helper()
	s, err := e.sessions.GetOrCreate(context.Background(), key)
	require.NoError(t, err)
	return s
}

func text(sender domain.Role, body string) domain.MessageDraft {
	return domain.MessageDraft{Sender: sender, Type: domain.MessageText, Text: body}
}
