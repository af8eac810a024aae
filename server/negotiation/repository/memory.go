package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/negotiation/domain"
)

type sessionKey struct {
	kind      domain.ContextKind
	partyAID  string
	partyBID  string
	contextID string
}

// tupleOf keys hall sessions by booking alone so owner and manager share one.
func tupleOf(s domain.Session) sessionKey {
	if s.ContextKind == domain.ContextHall {
		return sessionKey{kind: s.ContextKind, partyAID: s.PartyAID, contextID: s.ContextID}
	}
	return sessionKey{kind: s.ContextKind, partyAID: s.PartyAID, partyBID: s.PartyBID, contextID: s.ContextID}
}

type memSession struct {
	session  domain.Session
	lastSeq  int64
	messages []domain.Message
	reads    map[domain.Role]int64
}

type visibilityKey struct {
	agencyID   string
	fromUserID string
}

// MemoryStore keeps every negotiation collection in process memory. It backs
// tests and the memory store driver and mirrors the Postgres semantics:
// tuple uniqueness, per-session seq, read watermarks and status CAS.
type MemoryStore struct {
	mu sync.Mutex

	now      func() time.Time
	sessions map[string]*memSession
	byTuple  map[sessionKey]string
	payments map[string]domain.PaymentRequest

	visibility map[visibilityKey]map[string]bool
	public     map[string]map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        time.Now,
		sessions:   make(map[string]*memSession),
		byTuple:    make(map[sessionKey]string),
		payments:   make(map[string]domain.PaymentRequest),
		visibility: make(map[visibilityKey]map[string]bool),
		public:     make(map[string]map[string]bool),
	}
}

func (m *MemoryStore) UpsertSession(_ context.Context, s domain.Session) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tupleOf(s)
	if id, ok := m.byTuple[key]; ok {
		return m.sessions[id].session, false, nil
	}
	s.ID = uuid.NewString()
	s.CreatedAt = m.now().UTC()
	s.ArchivedAt = nil
	m.sessions[s.ID] = &memSession{session: s, reads: make(map[domain.Role]int64)}
	m.byTuple[key] = s.ID
	return s, true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return domain.Session{}, errs.NotFound("session", sessionID)
	}
	return ms.session, nil
}

func (m *MemoryStore) FindSessionByContext(_ context.Context, kind domain.ContextKind, contextID, partyAID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ms := range m.sessions {
		s := ms.session
		if s.ContextKind == kind && s.ContextID == contextID && s.PartyAID == partyAID {
			return s, nil
		}
	}
	return domain.Session{}, errs.NotFound("session", contextID+"/"+partyAID)
}

func (m *MemoryStore) ArchiveSession(_ context.Context, sessionID string, at time.Time) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return domain.Session{}, errs.NotFound("session", sessionID)
	}
	if ms.session.ArchivedAt == nil {
		archivedAt := at
		ms.session.ArchivedAt = &archivedAt
	}
	return ms.session, nil
}

func (m *MemoryStore) ListSessionsForParty(_ context.Context, role domain.Role, partyID string) ([]domain.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.SessionSummary, 0)
	for _, ms := range m.sessions {
		s := ms.session
		matchA := s.PartyAID == partyID && s.PartyAKind == role
		matchB := role.IsPartyB() && (s.PartyBID == partyID || s.ContextID == partyID)
		if !matchA && !matchB {
			continue
		}
		item := domain.SessionSummary{Session: s}
		if n := len(ms.messages); n > 0 {
			last := copyMessage(ms.messages[n-1])
			last.ReadBy = []domain.Role{}
			item.LastMessage = &last
			at := last.CreatedAt
			item.LastMessageAt = &at
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		ai, aj := items[i].ActivityAt(), items[j].ActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[msg.SessionID]
	if !ok {
		return msg, errs.NotFound("session", msg.SessionID)
	}
	if ms.session.Archived() {
		return msg, errs.Conflict(errs.CodeArchived, "session %s is archived", msg.SessionID)
	}
	ms.lastSeq++
	msg.Seq = ms.lastSeq
	msg.ID = uuid.NewString()
	msg.CreatedAt = m.now().UTC()
	msg.ReadBy = []domain.Role{}
	ms.messages = append(ms.messages, copyMessage(msg))
	return msg, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.Message, 0)
	ms, ok := m.sessions[sessionID]
	if !ok {
		return items, nil
	}
	for _, msg := range ms.messages {
		if msg.Seq <= sinceSeq {
			continue
		}
		if limit > 0 && len(items) >= limit {
			break
		}
		out := copyMessage(msg)
		out.ReadBy = readersOf(ms.reads, msg)
		items = append(items, out)
	}
	return items, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, sessionID string, reader domain.Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return 0, errs.NotFound("session", sessionID)
	}
	if ms.lastSeq > ms.reads[reader] {
		ms.reads[reader] = ms.lastSeq
	}
	return ms.reads[reader], nil
}

func (m *MemoryStore) CountUnread(_ context.Context, sessionID string, reader domain.Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	var count int64
	watermark := ms.reads[reader]
	for _, msg := range ms.messages {
		if msg.Seq > watermark && msg.Sender != reader {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, p domain.PaymentRequest) (domain.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; !ok {
		return p, errs.NotFound("session", p.SessionID)
	}
	now := m.now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.payments[p.ID] = p
	return p, nil
}

func (m *MemoryStore) GetPayment(_ context.Context, paymentID string) (domain.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return p, errs.NotFound("payment", paymentID)
	}
	return p, nil
}

func (m *MemoryStore) ListPayments(_ context.Context, sessionID string) ([]domain.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]domain.PaymentRequest, 0)
	for _, p := range m.payments {
		if p.SessionID == sessionID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) TransitionPayment(_ context.Context, t domain.Transition) (domain.PaymentRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[t.PaymentID]
	if !ok || p.Status != t.From {
		return domain.PaymentRequest{}, false, nil
	}
	p.Status = t.To
	if p.ProofImage == "" {
		p.ProofImage = t.ProofImage
	}
	if p.ProofThumbnail == "" {
		p.ProofThumbnail = t.ProofThumbnail
	}
	if t.To.Terminal() {
		at := t.At
		p.DecidedAt = &at
	}
	p.UpdatedAt = t.At
	m.payments[p.ID] = p
	return p, true, nil
}

func (m *MemoryStore) VisibilityRow(_ context.Context, agencyID, fromUserID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for to, canSee := range m.visibility[visibilityKey{agencyID, fromUserID}] {
		out[to] = canSee
	}
	return out, nil
}

func (m *MemoryStore) UpsertVisibility(_ context.Context, agencyID, fromUserID, toUserID string, canSee bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := visibilityKey{agencyID, fromUserID}
	row, ok := m.visibility[key]
	if !ok {
		row = make(map[string]bool)
		m.visibility[key] = row
	}
	row[toUserID] = canSee
	return nil
}

func (m *MemoryStore) CanSee(_ context.Context, agencyID, fromUserID, toUserID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visibility[visibilityKey{agencyID, fromUserID}][toUserID], nil
}

func (m *MemoryStore) SetPublic(_ context.Context, agencyID, userID string, isPublic bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags, ok := m.public[agencyID]
	if !ok {
		flags = make(map[string]bool)
		m.public[agencyID] = flags
	}
	flags[userID] = isPublic
	return nil
}

func (m *MemoryStore) IsPublic(_ context.Context, agencyID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.public[agencyID][userID], nil
}

func (m *MemoryStore) PublicProfiles(_ context.Context, agencyID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for userID, isPublic := range m.public[agencyID] {
		if isPublic {
			ids = append(ids, userID)
		}
	}
	for key, row := range m.visibility {
		if key.agencyID != agencyID {
			continue
		}
		for _, canSee := range row {
			if canSee {
				ids = append(ids, key.fromUserID)
				break
			}
		}
	}
	return domain.SortedUnique(ids), nil
}

func copyMessage(m domain.Message) domain.Message {
	if m.Payload != nil {
		m.Payload = append([]byte(nil), m.Payload...)
	}
	return m
}

func readersOf(reads map[domain.Role]int64, m domain.Message) []domain.Role {
	out := make([]domain.Role, 0, len(reads))
	for role, watermark := range reads {
		if role != m.Sender && watermark >= m.Seq {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
