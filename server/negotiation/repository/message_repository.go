package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/negotiation/domain"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// AppendMessage assigns the next per-session seq and stores m. The session
// row lock taken by the seq increment serializes concurrent appends.
func (r *MessageRepository) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return m, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		UPDATE negotiation_sessions
		SET last_seq = last_seq + 1
		WHERE session_id=$1::uuid AND archived_at IS NULL
		RETURNING last_seq
	`, m.SessionID).Scan(&m.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, r.appendRejection(ctx, tx, m.SessionID)
	}
	if err != nil {
		return m, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO session_messages(session_id, seq, sender, sender_identity, message_type, body, payload)
		VALUES($1::uuid, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING message_id::text, created_at
	`, m.SessionID, m.Seq, m.Sender, m.SenderIdentity, m.Type, m.Text, nullableJSON(m.Payload)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	if err := tx.Commit(ctx); err != nil {
		return m, err
	}
	m.ReadBy = []domain.Role{}
	return m, nil
}

func (r *MessageRepository) appendRejection(ctx context.Context, tx pgx.Tx, sessionID string) error {
	var archived bool
	err := tx.QueryRow(ctx, `SELECT archived_at IS NOT NULL FROM negotiation_sessions WHERE session_id=$1::uuid`, sessionID).Scan(&archived)
	if err != nil {
		return notFoundOr(err, "session", sessionID)
	}
	if archived {
		return errs.Conflict(errs.CodeArchived, "session %s is archived", sessionID)
	}
	return errs.Conflict(errs.CodeInvalidState, "session %s rejected the append", sessionID)
}

// ListMessages returns messages with seq > sinceSeq in seq order. ReadBy holds
// every reader role whose watermark covers the message, except the author.
func (r *MessageRepository) ListMessages(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			m.message_id::text, m.session_id::text, m.seq, m.sender, m.sender_identity,
			m.message_type, m.body, m.payload, m.created_at,
			ARRAY(
				SELECT rd.reader_role
				FROM session_reads rd
				WHERE rd.session_id = m.session_id AND rd.last_read_seq >= m.seq AND rd.reader_role <> m.sender
				ORDER BY rd.reader_role
			) AS read_by
		FROM session_messages m
		WHERE m.session_id=$1::uuid AND m.seq > $2
		ORDER BY m.seq ASC
		LIMIT $3
	`, sessionID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m       domain.Message
			payload []byte
			readBy  []string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Sender, &m.SenderIdentity, &m.Type, &m.Text, &payload, &m.CreatedAt, &readBy); err != nil {
			return nil, err
		}
		m.Payload = payload
		m.ReadBy = make([]domain.Role, 0, len(readBy))
		for _, role := range readBy {
			m.ReadBy = append(m.ReadBy, domain.Role(role))
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// MarkRead moves the reader's watermark to the session's last seq. The
// watermark never moves backwards.
func (r *MessageRepository) MarkRead(ctx context.Context, sessionID string, reader domain.Role) (int64, error) {
	var watermark int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO session_reads(session_id, reader_role, last_read_seq, updated_at)
		SELECT session_id, $2::text, last_seq, NOW()
		FROM negotiation_sessions
		WHERE session_id=$1::uuid
		ON CONFLICT (session_id, reader_role)
		DO UPDATE SET last_read_seq = GREATEST(session_reads.last_read_seq, EXCLUDED.last_read_seq), updated_at = NOW()
		RETURNING last_read_seq
	`, sessionID, reader).Scan(&watermark)
	if err != nil {
		return 0, notFoundOr(err, "session", sessionID)
	}
	return watermark, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, sessionID string, reader domain.Role) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)::BIGINT
		FROM session_messages m
		WHERE m.session_id=$1::uuid
		  AND m.sender <> $2
		  AND m.seq > COALESCE(
			(SELECT rd.last_read_seq FROM session_reads rd WHERE rd.session_id=$1::uuid AND rd.reader_role=$2),
			0
		  )
	`, sessionID, reader).Scan(&count)
	return count, err
}
