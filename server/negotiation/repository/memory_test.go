package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/negotiation/domain"
)

func newSession(t *testing.T, store *MemoryStore, partyA string) domain.Session {
	t.Helper()
	key := domain.SessionKey{PartyAKind: domain.RoleGuest, PartyAID: partyA, PartyBKind: domain.RoleOwner, PartyBID: "o1", ContextID: "h1"}
	s, _, err := store.UpsertSession(context.Background(), key.NewSession())
	require.NoError(t, err)
	return s
}

func TestMemoryUpsertIsUniquePerTuple(t *testing.T) {
	store := NewMemoryStore()
	key := domain.SessionKey{PartyAKind: domain.RoleUser, PartyAID: "u1", PartyBKind: domain.RoleAgency, PartyBID: "ag", ContextID: "ag"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, isNew, err := store.UpsertSession(context.Background(), key.NewSession())
			assert.NoError(t, err)
			mu.Lock()
			ids[s.ID] = struct{}{}
			if isNew {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestMemoryHallSessionIsUniquePerBooking(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := newSession(t, store, "b7")

	key := domain.SessionKey{PartyAKind: domain.RoleGuest, PartyAID: "b7", PartyBKind: domain.RoleManager, PartyBID: "m1", ContextID: "h1"}
	again, isNew, err := store.UpsertSession(ctx, key.NewSession())
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, owner.ID, again.ID)

	found, err := store.FindSessionByContext(ctx, domain.ContextHall, "h1", "b7")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, found.ID)
}

func TestMemoryAppendAssignsSeqAndTracksReads(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, "g1")

	for i, sender := range []domain.Role{domain.RoleGuest, domain.RoleOwner, domain.RoleGuest} {
		m, err := store.AppendMessage(ctx, domain.Message{SessionID: s.ID, Sender: sender, Type: domain.MessageText, Text: "hi"})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), m.Seq)
	}

	unread, err := store.CountUnread(ctx, s.ID, domain.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	watermark, err := store.MarkRead(ctx, s.ID, domain.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, int64(3), watermark)

	unread, err = store.CountUnread(ctx, s.ID, domain.RoleOwner)
	require.NoError(t, err)
	assert.Zero(t, unread)

	msgs, err := store.ListMessages(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []domain.Role{domain.RoleOwner}, msgs[0].ReadBy)
	assert.Empty(t, msgs[1].ReadBy)

	later, err := store.ListMessages(ctx, s.ID, 2, 10)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, int64(3), later[0].Seq)
}

func TestMemoryAppendRejectsArchived(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, "g1")

	archived, err := store.ArchiveSession(ctx, s.ID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, archived.ArchivedAt)

	again, err := store.ArchiveSession(ctx, s.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, *archived.ArchivedAt, *again.ArchivedAt)

	_, err = store.AppendMessage(ctx, domain.Message{SessionID: s.ID, Sender: domain.RoleGuest, Type: domain.MessageText, Text: "hi"})
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, errs.CodeArchived, errs.Code(err))

	_, err = store.AppendMessage(ctx, domain.Message{SessionID: "missing"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newSession(t, store, "g1")

	p, err := store.CreatePayment(ctx, domain.PaymentRequest{SessionID: s.ID, Amount: 10, Status: domain.PaymentAwaitingPayment})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.TransitionPayment(ctx, domain.Transition{
				PaymentID: p.ID, From: domain.PaymentAwaitingPayment, To: domain.PaymentAwaitingVerification,
				ProofImage: "proof", At: time.Now(),
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentAwaitingVerification, got.Status)
	assert.Equal(t, "proof", got.ProofImage)
	assert.Nil(t, got.DecidedAt)
}

func TestMemoryListSessionsForParty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first := newSession(t, store, "g1")
	second := newSession(t, store, "g2")
	_, err := store.AppendMessage(ctx, domain.Message{SessionID: first.ID, Sender: domain.RoleGuest, Type: domain.MessageText, Text: "latest"})
	require.NoError(t, err)

	items, err := store.ListSessionsForParty(ctx, domain.RoleOwner, "o1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	require.NotNil(t, items[0].LastMessage)
	assert.Equal(t, "latest", items[0].LastMessage.Text)
	assert.Equal(t, second.ID, items[1].ID)

	byContext, err := store.ListSessionsForParty(ctx, domain.RoleManager, "h1")
	require.NoError(t, err)
	assert.Len(t, byContext, 2)

	guest, err := store.ListSessionsForParty(ctx, domain.RoleGuest, "g2")
	require.NoError(t, err)
	require.Len(t, guest, 1)
	assert.Equal(t, second.ID, guest[0].ID)
}

func TestMemoryVisibility(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertVisibility(ctx, "ag", "U1", "U2", true))
	require.NoError(t, store.UpsertVisibility(ctx, "ag", "U5", "U2", false))
	require.NoError(t, store.SetPublic(ctx, "ag", "U9", true))
	require.NoError(t, store.SetPublic(ctx, "ag", "U8", false))
	require.NoError(t, store.SetPublic(ctx, "other", "U7", true))

	ok, err := store.CanSee(ctx, "ag", "U1", "U2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CanSee(ctx, "ag", "U1", "U3")
	require.NoError(t, err)
	assert.False(t, ok)

	profiles, err := store.PublicProfiles(ctx, "ag")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U9"}, profiles)
}
