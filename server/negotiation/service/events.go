package service

import (
	"context"
	"time"

	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

const (
	RouteMessageCreated       = "message.created"
	RoutePaymentStatusChanged = "payment.status_changed"
	RouteVisibilityUpdated    = "visibility.updated"
)

const publishTimeout = 3 * time.Second

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// NoopPublisher drops every event. Used when the broker is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

type MessageCreatedEvent struct {
	SessionID string         `json:"session_id"`
	Message   domain.Message `json:"message"`
}

type PaymentStatusChangedEvent struct {
	SessionID string                `json:"session_id"`
	From      domain.PaymentStatus  `json:"from"`
	Payment   domain.PaymentRequest `json:"payment"`
}

type VisibilityUpdatedEvent struct {
	AgencyID   string                `json:"agency_id"`
	FromUserID string                `json:"from_user_id"`
	Diff       domain.VisibilityDiff `json:"diff"`
}

// eventSink publishes domain events on a detached context. A broker failure
// is logged and never reaches the caller.
type eventSink struct {
	publisher EventPublisher
}

func newEventSink(p EventPublisher) *eventSink {
	if p == nil {
		p = NoopPublisher{}
	}
	return &eventSink{publisher: p}
}

func (s *eventSink) emit(ctx context.Context, routingKey string, payload any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, routingKey, payload); err != nil {
		commonlog.Warnf("event=domain_event_publish action=%s status=failed error=%v", routingKey, err)
	}
}
