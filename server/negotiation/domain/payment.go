package domain

import (
	"math"
	"regexp"
	"strings"
	"time"

	"negotiation_server/server/common/errs"
)

type PaymentStatus string

const (
	PaymentPending              PaymentStatus = "pending"
	PaymentAwaitingPayment      PaymentStatus = "awaiting_payment"
	PaymentAwaitingVerification PaymentStatus = "awaiting_verification"
	PaymentVerified             PaymentStatus = "verified"
	PaymentRejected             PaymentStatus = "rejected"
)

// ParsePaymentStatus accepts proof_uploaded as awaiting_verification.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch s := PaymentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case PaymentPending, PaymentAwaitingPayment, PaymentAwaitingVerification, PaymentVerified, PaymentRejected:
		return s, true
	case "proof_uploaded":
		return PaymentAwaitingVerification, true
	}
	return "", false
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentVerified || s == PaymentRejected
}

type PaymentEvent string

const (
	EventPublish     PaymentEvent = "publish"
	EventUploadProof PaymentEvent = "upload_proof"
	EventVerify      PaymentEvent = "verify"
	EventReject      PaymentEvent = "reject"
)

type transitionKey struct {
	from  PaymentStatus
	event PaymentEvent
}

// paymentTransitions is the whole payment state machine. A status change not
// listed here does not happen.
var paymentTransitions = map[transitionKey]PaymentStatus{
	{PaymentPending, EventPublish}:             PaymentAwaitingPayment,
	{PaymentAwaitingPayment, EventUploadProof}: PaymentAwaitingVerification,
	{PaymentAwaitingVerification, EventVerify}: PaymentVerified,
	{PaymentAwaitingVerification, EventReject}: PaymentRejected,
}

// NextStatus returns the status reached from `from` on event, or a
// ConflictError. Decisions on a terminal request report already_processed.
func NextStatus(from PaymentStatus, event PaymentEvent) (PaymentStatus, error) {
	if to, ok := paymentTransitions[transitionKey{from, event}]; ok {
		return to, nil
	}
	if from.Terminal() && (event == EventVerify || event == EventReject) {
		return "", errs.Conflict(errs.CodeAlreadyProcessed, "verification already completed")
	}
	return "", errs.Conflict(errs.CodeInvalidState, "cannot apply %s to a payment in status %s", event, from)
}

// DecisionEvent maps a requested outcome onto its event.
func DecisionEvent(outcome PaymentStatus) (PaymentEvent, error) {
	switch outcome {
	case PaymentVerified:
		return EventVerify, nil
	case PaymentRejected:
		return EventReject, nil
	}
	return "", errs.Invalid("status", "must be verified or rejected")
}

const DefaultCurrency = "PKR"

var (
	accountNumberPattern = regexp.MustCompile(`^\d{10,20}$`)
	currencyPattern      = regexp.MustCompile(`^[A-Z]{3}$`)
)

type PaymentTerms struct {
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Description   string  `json:"description"`
	DueDate       string  `json:"due_date,omitempty"`
	AccountTitle  string  `json:"account_title"`
	AccountNumber string  `json:"account_number"`
	BankName      string  `json:"bank_name"`
}

func (t PaymentTerms) Normalize() PaymentTerms {
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	t.Description = strings.TrimSpace(t.Description)
	t.DueDate = strings.TrimSpace(t.DueDate)
	t.AccountTitle = strings.TrimSpace(t.AccountTitle)
	t.AccountNumber = strings.TrimSpace(t.AccountNumber)
	t.BankName = strings.TrimSpace(t.BankName)
	return t
}

// Validate lists every missing or malformed field at once.
func (t PaymentTerms) Validate() error {
	v := &errs.ValidationError{}
	switch {
	case math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount <= 0:
		v.Add("amount", "must be greater than zero")
	case t.Amount >= 1e12:
		v.Add("amount", "is too large")
	}
	if !currencyPattern.MatchString(t.Currency) {
		v.Add("currency", "must be a three-letter code")
	}
	if t.Description == "" {
		v.Add("description", "is required")
	}
	if t.DueDate != "" {
		if _, err := t.Due(); err != nil {
			v.Add("due_date", "must be YYYY-MM-DD or RFC3339")
		}
	}
	if t.AccountTitle == "" {
		v.Add("account_title", "is required")
	}
	switch {
	case t.AccountNumber == "":
		v.Add("account_number", "is required")
	case !accountNumberPattern.MatchString(t.AccountNumber):
		v.Add("account_number", "must be 10 to 20 digits")
	}
	if t.BankName == "" {
		v.Add("bank_name", "is required")
	}
	return v.OrNil()
}

// Due parses the advisory due date. It is never enforced.
func (t PaymentTerms) Due() (*time.Time, error) {
	if t.DueDate == "" {
		return nil, nil
	}
	if d, err := time.Parse(time.DateOnly, t.DueDate); err == nil {
		return &d, nil
	}
	d, err := time.Parse(time.RFC3339, t.DueDate)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type PaymentRequest struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	Amount         float64       `json:"amount"`
	Currency       string        `json:"currency"`
	Description    string        `json:"description"`
	DueDate        *time.Time    `json:"due_date,omitempty"`
	AccountTitle   string        `json:"account_title"`
	AccountNumber  string        `json:"account_number"`
	BankName       string        `json:"bank_name"`
	Status         PaymentStatus `json:"status"`
	ProofImage     string        `json:"proof_image,omitempty"`
	ProofThumbnail string        `json:"proof_thumbnail,omitempty"`
	RequestedBy    Role          `json:"requested_by"`
	DecidedAt      *time.Time    `json:"decided_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Transition describes one compare-and-set on a payment's status.
type Transition struct {
	PaymentID      string
	From           PaymentStatus
	To             PaymentStatus
	ProofImage     string
	ProofThumbnail string
	At             time.Time
}

func (p PaymentRequest) RequestedPayload() PaymentRequested {
	out := PaymentRequested{
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Description:   p.Description,
		AccountTitle:  p.AccountTitle,
		AccountNumber: p.AccountNumber,
		BankName:      p.BankName,
	}
	if p.DueDate != nil {
		out.DueDate = p.DueDate.Format(time.DateOnly)
	}
	return out
}

const (
	NoticeVerified = "Payment verified, thank you."
	NoticeRejected = "Payment could not be verified."
)

// ProofHandle points at an uploaded proof image and its thumbnail.
type ProofHandle struct {
	Image     string `json:"proof_image"`
	Thumbnail string `json:"proof_thumbnail,omitempty"`
}
