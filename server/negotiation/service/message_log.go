package service

import (
	"context"
	"time"

	"negotiation_server/server/common/errs"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// MessageLog appends and lists session messages. Every append is persisted,
// then fanned out to the session room, then published to the broker, all
// under a per-session lock so room order equals seq order.
type MessageLog struct {
	sessions *SessionRegistry
	store    MessageStore
	rooms    *Broadcaster
	unread   *UnreadTracker
	events   *eventSink
	locks    *keyedMutex
}

func NewMessageLog(sessions *SessionRegistry, store MessageStore, rooms *Broadcaster, unread *UnreadTracker, publisher EventPublisher) *MessageLog {
	return &MessageLog{
		sessions: sessions,
		store:    store,
		rooms:    rooms,
		unread:   unread,
		events:   newEventSink(publisher),
		locks:    newKeyedMutex(),
	}
}

// Append stores a client message. Reserved workflow types are rejected.
func (l *MessageLog) Append(ctx context.Context, sessionID string, draft domain.MessageDraft) (domain.Message, error) {
	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	return l.appendTo(ctx, s, draft.Normalize(), false)
}

// AppendByParties creates the session on first message.
func (l *MessageLog) AppendByParties(ctx context.Context, key domain.SessionKey, draft domain.MessageDraft) (domain.Session, domain.Message, error) {
	s, err := l.sessions.GetOrCreate(ctx, key)
	if err != nil {
		return domain.Session{}, domain.Message{}, err
	}
	m, err := l.appendTo(ctx, s, draft.Normalize(), false)
	return s, m, err
}

func (l *MessageLog) appendWorkflow(ctx context.Context, s domain.Session, draft domain.MessageDraft) (domain.Message, error) {
	return l.appendTo(ctx, s, draft.Normalize(), true)
}

func (l *MessageLog) appendTo(ctx context.Context, s domain.Session, draft domain.MessageDraft, workflow bool) (domain.Message, error) {
	var err error
	if workflow {
		err = draft.ValidateWorkflow(s)
	} else {
		err = draft.ValidateFor(s)
	}
	if err != nil {
		return domain.Message{}, err
	}
	if s.Archived() {
		return domain.Message{}, errs.Conflict(errs.CodeArchived, "session %s is archived", s.ID)
	}

	unlock := l.locks.Lock(s.ID)
	defer unlock()

	startedAt := time.Now()
	stored, err := l.store.AppendMessage(ctx, domain.Message{
		SessionID:      s.ID,
		Sender:         draft.Sender,
		SenderIdentity: draft.SenderIdentity,
		Type:           draft.Type,
		Text:           draft.Text,
		Payload:        draft.Payload,
	})
	if err != nil {
		commonlog.Errorf("event=message_persist action=append status=failed session_id=%s type=%s latency_ms=%d error=%v", s.ID, draft.Type, time.Since(startedAt).Milliseconds(), err)
		return domain.Message{}, err
	}
	commonlog.Infof("event=message_persist action=append status=ok session_id=%s message_id=%s seq=%d type=%s latency_ms=%d", s.ID, stored.ID, stored.Seq, stored.Type, time.Since(startedAt).Milliseconds())

	l.unread.Invalidate(ctx, s.ID)
	msg := stored
	l.rooms.Publish(s.ID, Event{Event: EventReceiveMessage, Room: s.ID, SessionID: s.ID, Message: &msg})
	l.events.emit(ctx, RouteMessageCreated, MessageCreatedEvent{SessionID: s.ID, Message: stored})
	return stored, nil
}

// List returns messages after sinceSeq in seq order. limit <= 0 means the
// default page size.
func (l *MessageLog) List(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error) {
	if _, err := l.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	if sinceSeq < 0 {
		return nil, errs.Invalid("since", "must not be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return l.store.ListMessages(ctx, sessionID, sinceSeq, limit)
}

// MarkRead marks every message not written by reader as read by reader.
func (l *MessageLog) MarkRead(ctx context.Context, sessionID string, reader domain.Role) error {
	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	parsed, ok := domain.ParseRole(string(reader))
	if !ok || parsed == domain.RoleSystem {
		return errs.Invalid("reader_role", "unknown role")
	}
	if _, onSession := s.Side(parsed); !onSession {
		return errs.Invalid("reader_role", "is not a party of this session")
	}

	unlock := l.locks.Lock(s.ID)
	defer unlock()
	watermark, err := l.store.MarkRead(ctx, s.ID, parsed)
	if err != nil {
		return err
	}
	l.unread.Invalidate(ctx, s.ID)
	commonlog.Debugf("event=message_read action=mark status=ok session_id=%s reader=%s watermark=%d", s.ID, parsed, watermark)
	return nil
}

// Unread returns the unread count of reader in one session.
func (l *MessageLog) Unread(ctx context.Context, sessionID string, reader domain.Role) (int64, error) {
	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	parsed, ok := domain.ParseRole(string(reader))
	if !ok || parsed == domain.RoleSystem {
		return 0, errs.Invalid("role", "unknown role")
	}
	return l.unread.Count(ctx, s.ID, parsed)
}
