package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"negotiation_server/server/negotiation/domain"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `payment_id::text, session_id::text, amount::float8, currency, description, due_date,
	account_title, account_number, bank_name, status, COALESCE(proof_image, ''), COALESCE(proof_thumbnail, ''),
	requested_by, decided_at, created_at, updated_at`

func scanPayment(row pgx.Row) (domain.PaymentRequest, error) {
	var p domain.PaymentRequest
	err := row.Scan(
		&p.ID, &p.SessionID, &p.Amount, &p.Currency, &p.Description, &p.DueDate,
		&p.AccountTitle, &p.AccountNumber, &p.BankName, &p.Status, &p.ProofImage, &p.ProofThumbnail,
		&p.RequestedBy, &p.DecidedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p domain.PaymentRequest) (domain.PaymentRequest, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
		INSERT INTO payment_requests(session_id, amount, currency, description, due_date, account_title, account_number, bank_name, status, requested_by)
		VALUES($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+paymentColumns,
		p.SessionID, p.Amount, p.Currency, p.Description, p.DueDate, p.AccountTitle, p.AccountNumber, p.BankName, p.Status, p.RequestedBy))
}

func (r *PaymentRepository) GetPayment(ctx context.Context, paymentID string) (domain.PaymentRequest, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_requests WHERE payment_id=$1::uuid`, paymentID))
	if err != nil {
		return p, notFoundOr(err, "payment", paymentID)
	}
	return p, nil
}

func (r *PaymentRepository) ListPayments(ctx context.Context, sessionID string) ([]domain.PaymentRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_requests
		WHERE session_id=$1::uuid
		ORDER BY created_at ASC, payment_id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PaymentRequest, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// TransitionPayment applies t only if the stored status still equals t.From.
// ok is false when another writer moved the payment first.
func (r *PaymentRepository) TransitionPayment(ctx context.Context, t domain.Transition) (domain.PaymentRequest, bool, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `
		UPDATE payment_requests
		SET status = $3,
		    proof_image = COALESCE(proof_image, $4),
		    proof_thumbnail = COALESCE(proof_thumbnail, $5),
		    decided_at = CASE WHEN $3::text IN ('verified', 'rejected') THEN $6 ELSE decided_at END,
		    updated_at = $6
		WHERE payment_id=$1::uuid AND status=$2
		RETURNING `+paymentColumns,
		t.PaymentID, t.From, t.To, nullableText(t.ProofImage), nullableText(t.ProofThumbnail), t.At))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentRequest{}, false, nil
	}
	if err != nil {
		return domain.PaymentRequest{}, false, err
	}
	return p, true, nil
}
