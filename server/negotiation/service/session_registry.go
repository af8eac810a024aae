package service

import (
	"context"
	"time"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/common/infra/directory"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

type SessionRegistry struct {
	store     SessionStore
	directory Directory
	unread    *UnreadTracker
	now       func() time.Time
}

func NewSessionRegistry(store SessionStore, dir Directory, unread *UnreadTracker) *SessionRegistry {
	if dir == nil {
		dir = directory.AllowAll{}
	}
	return &SessionRegistry{store: store, directory: dir, unread: unread, now: time.Now}
}

// GetOrCreate returns the session for the party tuple, creating it on first
// contact. Concurrent callers with the same tuple get the same session. Hall
// sessions are keyed by hall and booking only, so the owner and managers of a
// hall share one session per booking.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, key domain.SessionKey) (domain.Session, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return domain.Session{}, err
	}
	if err := r.directory.CheckParties(ctx, directory.Parties{
		PartyAKind:  string(key.PartyAKind),
		PartyAID:    key.PartyAID,
		PartyBKind:  string(key.PartyBKind),
		PartyBID:    key.PartyBID,
		ContextKind: string(key.ContextKind()),
		ContextID:   key.ContextID,
	}); err != nil {
		return domain.Session{}, err
	}

	s, created, err := r.store.UpsertSession(ctx, key.NewSession())
	if err != nil {
		commonlog.Errorf("event=session_upsert action=get_or_create status=failed party_a_id=%s party_b_id=%s context_id=%s error=%v", key.PartyAID, key.PartyBID, key.ContextID, err)
		return domain.Session{}, err
	}
	if side, ok := s.Side(key.PartyBKind); s.PartyAKind != key.PartyAKind || !ok || side != domain.SideB {
		return domain.Session{}, errs.Conflict(errs.CodeInvalidState, "session %s already exists between %s and %s", s.ID, s.PartyAKind, s.PartyBKind)
	}
	if created {
		commonlog.Infof("event=session_upsert action=create status=ok session_id=%s context_kind=%s context_id=%s", s.ID, s.ContextKind, s.ContextID)
	}
	return s, nil
}

func (r *SessionRegistry) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := domain.ValidateSessionID("session_id", sessionID); err != nil {
		return domain.Session{}, err
	}
	return r.store.GetSession(ctx, sessionID)
}

// ListForParty returns the inbox of one party, most recent activity first,
// with unread counts for role.
func (r *SessionRegistry) ListForParty(ctx context.Context, role domain.Role, partyID string) ([]domain.SessionSummary, error) {
	parsed, ok := domain.ParseRole(string(role))
	if !ok || parsed == domain.RoleSystem {
		return nil, errs.Invalid("role", "unknown role")
	}
	if err := domain.ValidateID("id", partyID); err != nil {
		return nil, err
	}
	items, err := r.store.ListSessionsForParty(ctx, parsed, partyID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		n, err := r.unread.Count(ctx, items[i].ID, parsed)
		if err != nil {
			return nil, err
		}
		items[i].UnreadCount = n
	}
	return items, nil
}

func (r *SessionRegistry) Archive(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := domain.ValidateSessionID("session_id", sessionID); err != nil {
		return domain.Session{}, err
	}
	s, err := r.store.ArchiveSession(ctx, sessionID, r.now().UTC())
	if err != nil {
		return domain.Session{}, err
	}
	commonlog.Infof("event=session_archive action=archive status=ok session_id=%s", s.ID)
	return s, nil
}

// ResolveRoom maps a room key to its session. Unknown rooms fail at once
// with a NotFoundError.
func (r *SessionRegistry) ResolveRoom(ctx context.Context, room string) (domain.Session, error) {
	key, err := domain.ParseRoomKey(room)
	if err != nil {
		return domain.Session{}, err
	}
	if key.SessionID != "" {
		return r.store.GetSession(ctx, key.SessionID)
	}
	return r.store.FindSessionByContext(ctx, domain.ContextHall, key.HallID, key.BookingID)
}
