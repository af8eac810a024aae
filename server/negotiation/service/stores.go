package service

import (
	"context"
	"time"

	"negotiation_server/server/common/infra/directory"
	"negotiation_server/server/negotiation/domain"
)

type SessionStore interface {
	UpsertSession(ctx context.Context, s domain.Session) (domain.Session, bool, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	FindSessionByContext(ctx context.Context, kind domain.ContextKind, contextID, partyAID string) (domain.Session, error)
	ArchiveSession(ctx context.Context, sessionID string, at time.Time) (domain.Session, error)
	ListSessionsForParty(ctx context.Context, role domain.Role, partyID string) ([]domain.SessionSummary, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	ListMessages(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error)
	MarkRead(ctx context.Context, sessionID string, reader domain.Role) (int64, error)
	CountUnread(ctx context.Context, sessionID string, reader domain.Role) (int64, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p domain.PaymentRequest) (domain.PaymentRequest, error)
	GetPayment(ctx context.Context, paymentID string) (domain.PaymentRequest, error)
	ListPayments(ctx context.Context, sessionID string) ([]domain.PaymentRequest, error)
	TransitionPayment(ctx context.Context, t domain.Transition) (domain.PaymentRequest, bool, error)
}

type VisibilityStore interface {
	VisibilityRow(ctx context.Context, agencyID, fromUserID string) (map[string]bool, error)
	UpsertVisibility(ctx context.Context, agencyID, fromUserID, toUserID string, canSee bool) error
	CanSee(ctx context.Context, agencyID, fromUserID, toUserID string) (bool, error)
	SetPublic(ctx context.Context, agencyID, userID string, isPublic bool) error
	IsPublic(ctx context.Context, agencyID, userID string) (bool, error)
	PublicProfiles(ctx context.Context, agencyID string) ([]string, error)
}

// Directory answers existence and billing questions owned by other services.
type Directory interface {
	CheckParties(ctx context.Context, p directory.Parties) error
	IsPaidClient(ctx context.Context, agencyID, userID string) (bool, error)
}

type CounterCache interface {
	Get(ctx context.Context, owner, field string) (int64, bool, error)
	Set(ctx context.Context, owner, field string, value int64) error
	Drop(ctx context.Context, owner string) error
}

type Idempotency interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
