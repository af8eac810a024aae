package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"negotiation_server/server/negotiation/domain"
)

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `session_id::text, party_a_kind, party_a_id, party_b_kind, party_b_id, context_kind, context_id, archived_at, created_at`

func scanSession(row pgx.Row, extra ...any) (domain.Session, error) {
	var s domain.Session
	dest := append([]any{
		&s.ID, &s.PartyAKind, &s.PartyAID, &s.PartyBKind, &s.PartyBID, &s.ContextKind, &s.ContextID, &s.ArchivedAt, &s.CreatedAt,
	}, extra...)
	err := row.Scan(dest...)
	return s, err
}

const (
	tupleConflict = `ON CONFLICT (party_a_id, party_b_id, context_id)`
	// one session per hall booking, whichever hall staff member opened it
	hallConflict = `ON CONFLICT (context_id, party_a_id) WHERE context_kind = 'hall'`
)

// UpsertSession returns the session for the tuple, inserting it when absent.
// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
func (r *SessionRepository) UpsertSession(ctx context.Context, s domain.Session) (domain.Session, bool, error) {
	conflict := tupleConflict
	if s.ContextKind == domain.ContextHall {
		conflict = hallConflict
	}
	var created bool
	out, err := scanSession(r.pool.QueryRow(ctx, `
		INSERT INTO negotiation_sessions(party_a_kind, party_a_id, party_b_kind, party_b_id, context_kind, context_id)
		VALUES($1, $2, $3, $4, $5, $6)
		`+conflict+`
		DO UPDATE SET context_id = negotiation_sessions.context_id
		RETURNING `+sessionColumns+`, (xmax = 0) AS created
	`, s.PartyAKind, s.PartyAID, s.PartyBKind, s.PartyBID, s.ContextKind, s.ContextID), &created)
	if err != nil {
		return domain.Session{}, false, err
	}
	return out, created, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM negotiation_sessions WHERE session_id=$1::uuid`, sessionID))
	if err != nil {
		return domain.Session{}, notFoundOr(err, "session", sessionID)
	}
	return s, nil
}

func (r *SessionRepository) FindSessionByContext(ctx context.Context, kind domain.ContextKind, contextID, partyAID string) (domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM negotiation_sessions
		WHERE context_kind=$1 AND context_id=$2 AND party_a_id=$3
	`, kind, contextID, partyAID))
	if err != nil {
		return domain.Session{}, notFoundOr(err, "session", contextID+"/"+partyAID)
	}
	return s, nil
}

func (r *SessionRepository) ArchiveSession(ctx context.Context, sessionID string, at time.Time) (domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		UPDATE negotiation_sessions
		SET archived_at = COALESCE(archived_at, $2)
		WHERE session_id=$1::uuid
		RETURNING `+sessionColumns, sessionID, at))
	if err != nil {
		return domain.Session{}, notFoundOr(err, "session", sessionID)
	}
	return s, nil
}

// ListSessionsForParty returns summaries without unread counts, most recent
// activity first. B-side roles also see sessions scoped to their context.
func (r *SessionRepository) ListSessionsForParty(ctx context.Context, role domain.Role, partyID string) ([]domain.SessionSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			s.session_id::text, s.party_a_kind, s.party_a_id, s.party_b_kind, s.party_b_id,
			s.context_kind, s.context_id, s.archived_at, s.created_at,
			lm.message_id, lm.seq, lm.sender, lm.sender_identity, lm.message_type, lm.body, lm.payload, lm.created_at
		FROM negotiation_sessions s
		LEFT JOIN LATERAL (
			SELECT m.message_id::text AS message_id, m.seq, m.sender, m.sender_identity, m.message_type, m.body, m.payload, m.created_at
			FROM session_messages m
			WHERE m.session_id = s.session_id
			ORDER BY m.seq DESC
			LIMIT 1
		) lm ON true
		WHERE (s.party_a_id = $1 AND s.party_a_kind = $2)
		   OR (s.party_b_id = $1 AND $3::boolean)
		   OR (s.context_id = $1 AND $3::boolean)
		ORDER BY COALESCE(lm.created_at, s.created_at) DESC, s.session_id DESC
	`, partyID, role, role.IsPartyB())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SessionSummary, 0)
	for rows.Next() {
		var (
			item      domain.SessionSummary
			msgID     *string
			seq       *int64
			sender    *string
			identity  *string
			msgType   *string
			body      *string
			payload   []byte
			createdAt *time.Time
		)
		if err := rows.Scan(
			&item.ID, &item.PartyAKind, &item.PartyAID, &item.PartyBKind, &item.PartyBID,
			&item.ContextKind, &item.ContextID, &item.ArchivedAt, &item.CreatedAt,
			&msgID, &seq, &sender, &identity, &msgType, &body, &payload, &createdAt,
		); err != nil {
			return nil, err
		}
		if msgID != nil {
			item.LastMessage = &domain.Message{
				ID:             *msgID,
				SessionID:      item.ID,
				Seq:            *seq,
				Sender:         domain.Role(*sender),
				SenderIdentity: *identity,
				Type:           domain.MessageType(*msgType),
				Text:           *body,
				Payload:        payload,
				CreatedAt:      *createdAt,
				ReadBy:         []domain.Role{},
			}
			item.LastMessageAt = createdAt
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
