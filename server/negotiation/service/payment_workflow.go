package service

import (
	"context"
	"time"

	"negotiation_server/server/common/errs"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

// PaymentWorkflow drives payment requests through the transition table in
// domain and mirrors every transition into the session chat.
type PaymentWorkflow struct {
	sessions *SessionRegistry
	store    PaymentStore
	log      *MessageLog
	rooms    *Broadcaster
	events   *eventSink
	now      func() time.Time
}

func NewPaymentWorkflow(sessions *SessionRegistry, store PaymentStore, log *MessageLog, rooms *Broadcaster, publisher EventPublisher) *PaymentWorkflow {
	return &PaymentWorkflow{
		sessions: sessions,
		store:    store,
		log:      log,
		rooms:    rooms,
		events:   newEventSink(publisher),
		now:      time.Now,
	}
}

// CreateRequest opens a payment request on behalf of party B. The returned
// request is already awaiting payment. requestedBy may be empty, in which
// case the session's party B kind is used.
func (w *PaymentWorkflow) CreateRequest(ctx context.Context, sessionID string, requestedBy domain.Role, terms domain.PaymentTerms) (domain.PaymentRequest, error) {
	terms = terms.Normalize()
	if err := terms.Validate(); err != nil {
		return domain.PaymentRequest{}, err
	}
	s, err := w.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	if s.Archived() {
		return domain.PaymentRequest{}, errs.Conflict(errs.CodeArchived, "session %s is archived", s.ID)
	}
	if requestedBy == "" {
		requestedBy = s.PartyBKind
	}
	if side, ok := s.Side(requestedBy); !ok || side != domain.SideB {
		return domain.PaymentRequest{}, errs.Forbidden("only %s may request payment in this session", s.PartyBKind)
	}
	due, _ := terms.Due()
	// stored already published; creation is a single write
	status, err := domain.NextStatus(domain.PaymentPending, domain.EventPublish)
	if err != nil {
		return domain.PaymentRequest{}, err
	}

	p, err := w.store.CreatePayment(ctx, domain.PaymentRequest{
		SessionID:     s.ID,
		Amount:        terms.Amount,
		Currency:      terms.Currency,
		Description:   terms.Description,
		DueDate:       due,
		AccountTitle:  terms.AccountTitle,
		AccountNumber: terms.AccountNumber,
		BankName:      terms.BankName,
		Status:        status,
		RequestedBy:   requestedBy,
	})
	if err != nil {
		commonlog.Errorf("event=payment_create action=create status=failed session_id=%s error=%v", s.ID, err)
		return domain.PaymentRequest{}, err
	}
	commonlog.Infof("event=payment_create action=create status=ok session_id=%s payment_id=%s amount=%.2f currency=%s", s.ID, p.ID, p.Amount, p.Currency)

	w.mirror(ctx, s, requestedBy, p.RequestedPayload(), "")
	w.announce(ctx, s, domain.PaymentPending, p)
	return p, nil
}

// UploadProof records party A's proof. It succeeds once per request.
func (w *PaymentWorkflow) UploadProof(ctx context.Context, paymentID string, proof domain.ProofHandle) (domain.PaymentRequest, error) {
	if proof.Image == "" {
		return domain.PaymentRequest{}, errs.Invalid("proof_image", "is required")
	}
	s, p, err := w.load(ctx, paymentID)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	updated, err := w.advance(ctx, s, p, domain.EventUploadProof, proof)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	w.mirror(ctx, s, s.PartyAKind, domain.PaymentConfirmation{
		PaymentID:      updated.ID,
		ProofImage:     updated.ProofImage,
		ProofThumbnail: updated.ProofThumbnail,
	}, "")
	return updated, nil
}

// Decide verifies or rejects a request awaiting verification. A request that
// was already decided yields a conflict with code already_processed.
func (w *PaymentWorkflow) Decide(ctx context.Context, paymentID string, outcome domain.PaymentStatus) (domain.PaymentRequest, error) {
	event, err := domain.DecisionEvent(outcome)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	s, p, err := w.load(ctx, paymentID)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	updated, err := w.advance(ctx, s, p, event, domain.ProofHandle{})
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	notice := domain.NoticeVerified
	if updated.Status == domain.PaymentRejected {
		notice = domain.NoticeRejected
	}
	w.mirror(ctx, s, domain.RoleSystem, domain.Notice{PaymentID: updated.ID, Status: updated.Status}, notice)
	return updated, nil
}

func (w *PaymentWorkflow) GetByID(ctx context.Context, paymentID string) (domain.PaymentRequest, error) {
	if err := domain.ValidateSessionID("payment_id", paymentID); err != nil {
		return domain.PaymentRequest{}, err
	}
	return w.store.GetPayment(ctx, paymentID)
}

func (w *PaymentWorkflow) ListForSession(ctx context.Context, sessionID string) ([]domain.PaymentRequest, error) {
	if _, err := w.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return w.store.ListPayments(ctx, sessionID)
}

// Session returns the session a payment belongs to.
func (w *PaymentWorkflow) Session(ctx context.Context, paymentID string) (domain.Session, error) {
	s, _, err := w.load(ctx, paymentID)
	return s, err
}

func (w *PaymentWorkflow) load(ctx context.Context, paymentID string) (domain.Session, domain.PaymentRequest, error) {
	p, err := w.GetByID(ctx, paymentID)
	if err != nil {
		return domain.Session{}, domain.PaymentRequest{}, err
	}
	s, err := w.sessions.Get(ctx, p.SessionID)
	if err != nil {
		return domain.Session{}, domain.PaymentRequest{}, err
	}
	return s, p, nil
}

// advance applies event to p with a compare-and-set on its status. Losing the
// race re-reads the payment and reports the conflict against the new state.
func (w *PaymentWorkflow) advance(ctx context.Context, s domain.Session, p domain.PaymentRequest, event domain.PaymentEvent, proof domain.ProofHandle) (domain.PaymentRequest, error) {
	to, err := domain.NextStatus(p.Status, event)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	if s.Archived() {
		return domain.PaymentRequest{}, errs.Conflict(errs.CodeArchived, "session %s is archived", s.ID)
	}
	updated, ok, err := w.store.TransitionPayment(ctx, domain.Transition{
		PaymentID:      p.ID,
		From:           p.Status,
		To:             to,
		ProofImage:     proof.Image,
		ProofThumbnail: proof.Thumbnail,
		At:             w.now().UTC(),
	})
	if err != nil {
		commonlog.Errorf("event=payment_transition action=%s status=failed payment_id=%s from=%s error=%v", event, p.ID, p.Status, err)
		return domain.PaymentRequest{}, err
	}
	if !ok {
		current, err := w.store.GetPayment(ctx, p.ID)
		if err != nil {
			return domain.PaymentRequest{}, err
		}
		if _, err := domain.NextStatus(current.Status, event); err != nil {
			return domain.PaymentRequest{}, err
		}
		return domain.PaymentRequest{}, errs.Conflict(errs.CodeInvalidState, "payment %s changed concurrently", p.ID)
	}
	commonlog.Infof("event=payment_transition action=%s status=ok payment_id=%s from=%s to=%s", event, updated.ID, p.Status, updated.Status)
	w.announce(ctx, s, p.Status, updated)
	return updated, nil
}

// announce pushes a committed status change to the room and the broker.
func (w *PaymentWorkflow) announce(ctx context.Context, s domain.Session, from domain.PaymentStatus, p domain.PaymentRequest) {
	payment := p
	w.rooms.Publish(s.ID, Event{Event: EventPaymentUpdated, Room: s.ID, SessionID: s.ID, Payment: &payment})
	w.events.emit(ctx, RoutePaymentStatusChanged, PaymentStatusChangedEvent{SessionID: s.ID, From: from, Payment: p})
}

// mirror appends the chat message that narrates a transition. The transition
// has already been committed, so a failed append is logged, not returned.
func (w *PaymentWorkflow) mirror(ctx context.Context, s domain.Session, sender domain.Role, payload domain.Payload, text string) {
	raw, err := domain.EncodePayload(payload)
	if err == nil {
		_, err = w.log.appendWorkflow(ctx, s, domain.MessageDraft{
			Sender:  sender,
			Type:    payload.MessageType(),
			Text:    text,
			Payload: raw,
		})
	}
	if err != nil {
		commonlog.Errorf("event=payment_mirror action=%s status=failed session_id=%s error=%v", payload.MessageType(), s.ID, err)
	}
}
