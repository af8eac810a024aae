package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/negotiation/domain"
)

func TestAppendReturnsStoredMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.session(t, hallKey("guest-1"))

	m, err := env.log.Append(ctx, s.ID, domain.MessageDraft{Sender: "guest", SenderIdentity: "g@example.com", Text: " hello "})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(1), m.Seq)
	assert.Equal(t, domain.MessageText, m.Type)
	assert.Equal(t, "hello", m.Text)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, []string{RouteMessageCreated}, env.publisher.keys())
}

func TestAppendRejectsReservedAndForeignSenders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.session(t, hallKey("guest-1"))

	_, err := env.log.Append(ctx, s.ID, domain.MessageDraft{Sender: domain.RoleOwner, Type: domain.MessageSystemNotice, Text: "paid"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = env.log.Append(ctx, s.ID, text(domain.RoleAgency, "hi"))
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = env.log.Append(ctx, "6f1c2d8e-0000-4000-8000-000000000001", text(domain.RoleGuest, "hi"))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	msgs, err := env.log.List(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListIsOrderedAndRepeatable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.session(t, hallKey("guest-1"))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := domain.RoleGuest
			if i%2 == 0 {
				sender = domain.RoleOwner
			}
			_, err := env.log.Append(ctx, s.ID, text(sender, fmt.Sprintf("m%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	first, err := env.log.List(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, first, 40)
	for i, m := range first {
		assert.Equal(t, int64(i+1), m.Seq)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(first[i-1].CreatedAt))
		}
	}
	second, err := env.log.List(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	tail, err := env.log.List(ctx, s.ID, 38, 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(39), tail[0].Seq)

	page, err := env.log.List(ctx, s.ID, 0, 5)
	require.NoError(t, err)
	assert.Len(t, page, 5)

	_, err = env.log.List(ctx, s.ID, -1, 0)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRoomObservesAppendOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.session(t, hallKey("guest-1"))
	other := env.session(t, hallKey("guest-2"))

	a := &recordingSubscriber{id: "a"}
	b := &recordingSubscriber{id: "b"}
	outsider := &recordingSubscriber{id: "c"}
	env.rooms.Join(s.ID, a)
	env.rooms.Join(s.ID, b)
	env.rooms.Join(other.ID, outsider)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.log.Append(ctx, s.ID, text(domain.RoleGuest, fmt.Sprintf("m%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seqs := func(events []Event) []int64 {
		out := make([]int64, 0, len(events))
		for _, ev := range events {
			require.Equal(t, EventReceiveMessage, ev.Event)
			out = append(out, ev.Message.Seq)
		}
		return out
	}
	gotA, gotB := seqs(a.received()), seqs(b.received())
	require.Len(t, gotA, 20)
	assert.Equal(t, gotA, gotB)
	for i, seq := range gotA {
		assert.Equal(t, int64(i+1), seq)
	}
	assert.Empty(t, outsider.received())
}

func TestMarkReadTracksReadersAndUnread(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.session(t, hallKey("guest-1"))

	for _, d := range []domain.MessageDraft{text(domain.RoleGuest, "a"), text(domain.RoleOwner, "b"), text(domain.RoleGuest, "c")} {
		_, err := env.log.Append(ctx, s.ID, d)
		require.NoError(t, err)
	}

	n, err := env.log.Unread(ctx, s.ID, domain.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, env.log.MarkRead(ctx, s.ID, domain.RoleOwner))
	n, err = env.log.Unread(ctx, s.ID, domain.RoleOwner)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := env.log.List(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleOwner}, msgs[0].ReadBy)
	assert.Empty(t, msgs[1].ReadBy)

	_, err = env.log.Append(ctx, s.ID, text(domain.RoleGuest, "d"))
	require.NoError(t, err)
	n, err = env.log.Unread(ctx, s.ID, domain.RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, env.log.MarkRead(ctx, s.ID, domain.RoleAgency), errs.ErrValidation)
	assert.ErrorIs(t, env.log.MarkRead(ctx, s.ID, "nobody"), errs.ErrValidation)
}

func TestAppendByPartiesCreatesSessionLazily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s, m, err := env.log.AppendByParties(ctx, agencyKey("u1"), text(domain.RoleUser, "hello agency"))
	require.NoError(t, err)
	assert.Equal(t, s.ID, m.SessionID)

	again, m2, err := env.log.AppendByParties(ctx, agencyKey("u1"), text(domain.RoleAgency, "hello user"))
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)
	assert.Equal(t, int64(2), m2.Seq)
}

func TestStructuredMessagesFollowSideRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.session(t, agencyKey("u1"))

	request := domain.MessageDraft{Sender: domain.RoleAgency, Type: domain.MessageRequestForm,
		Payload: json.RawMessage(`{"form_id":"prefs","questions":[{"key":"city","label":"City","required":true}]}`)}
	_, err := env.log.Append(ctx, s.ID, request)
	require.NoError(t, err)

	answer := domain.MessageDraft{Sender: domain.RoleUser, Type: domain.MessageFormResponse,
		Payload: json.RawMessage(`{"form_id":"prefs","answers":{"city":"Lahore"}}`)}
	m, err := env.log.Append(ctx, s.ID, answer)
	require.NoError(t, err)

	p, err := m.Decode()
	require.NoError(t, err)
	assert.Equal(t, "Lahore", p.(domain.FormResponse).Answers["city"])

	answer.Sender = domain.RoleAgency
	_, err = env.log.Append(ctx, s.ID, answer)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
