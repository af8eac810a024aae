package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"negotiation_server/server/common/errs"
)

// Payload is the structured body of a non-text message. Each message type
// has exactly one payload variant.
type Payload interface {
	MessageType() MessageType
	validate(v *errs.ValidationError)
}

type BookingDetailsRequest struct {
	BookingID string   `json:"booking_id,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	Note      string   `json:"note,omitempty"`
}

type BookingDetails struct {
	BookingID  string `json:"booking_id,omitempty"`
	EventDate  string `json:"event_date"`
	GuestCount int    `json:"guest_count"`
	Menu       string `json:"menu,omitempty"`
	Decoration string `json:"decoration,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type FormQuestion struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required,omitempty"`
}

type FormRequest struct {
	FormID    string         `json:"form_id"`
	Title     string         `json:"title,omitempty"`
	Questions []FormQuestion `json:"questions"`
}

type FormResponse struct {
	FormID  string            `json:"form_id"`
	Answers map[string]string `json:"answers"`
}

// PaymentRequested carries the terms shown to party A.
type PaymentRequested struct {
	PaymentID     string  `json:"payment_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Description   string  `json:"description"`
	DueDate       string  `json:"due_date,omitempty"`
	AccountTitle  string  `json:"account_title"`
	AccountNumber string  `json:"account_number"`
	BankName      string  `json:"bank_name"`
}

type PaymentConfirmation struct {
	PaymentID      string `json:"payment_id"`
	ProofImage     string `json:"proof_image"`
	ProofThumbnail string `json:"proof_thumbnail,omitempty"`
}

type Notice struct {
	PaymentID string        `json:"payment_id,omitempty"`
	Status    PaymentStatus `json:"status,omitempty"`
}

func (BookingDetailsRequest) MessageType() MessageType { return MessageRequestBookingDetails }
func (BookingDetails) MessageType() MessageType        { return MessageBookingDetails }
func (FormRequest) MessageType() MessageType           { return MessageRequestForm }
func (FormResponse) MessageType() MessageType          { return MessageFormResponse }
func (PaymentRequested) MessageType() MessageType      { return MessageRequestPayment }
func (PaymentConfirmation) MessageType() MessageType   { return MessagePaymentConfirmation }
func (Notice) MessageType() MessageType                { return MessageSystemNotice }

func (BookingDetailsRequest) validate(*errs.ValidationError) {}

func (p BookingDetails) validate(v *errs.ValidationError) {
	if strings.TrimSpace(p.EventDate) == "" {
		v.Add("structured_payload.event_date", "is required")
	}
	if p.GuestCount < 0 {
		v.Add("structured_payload.guest_count", "must not be negative")
	}
}

func (p FormRequest) validate(v *errs.ValidationError) {
	if strings.TrimSpace(p.FormID) == "" {
		v.Add("structured_payload.form_id", "is required")
	}
	if len(p.Questions) == 0 {
		v.Add("structured_payload.questions", "must not be empty")
	}
	seen := make(map[string]struct{}, len(p.Questions))
	for _, q := range p.Questions {
		if strings.TrimSpace(q.Key) == "" {
			v.Add("structured_payload.questions", "every question needs a key")
			return
		}
		if _, dup := seen[q.Key]; dup {
			v.Add("structured_payload.questions", "duplicate key "+q.Key)
			return
		}
		seen[q.Key] = struct{}{}
	}
}

func (p FormResponse) validate(v *errs.ValidationError) {
	if strings.TrimSpace(p.FormID) == "" {
		v.Add("structured_payload.form_id", "is required")
	}
	if len(p.Answers) == 0 {
		v.Add("structured_payload.answers", "must not be empty")
	}
}

func (p PaymentRequested) validate(v *errs.ValidationError) {
	if p.PaymentID == "" {
		v.Add("structured_payload.payment_id", "is required")
	}
}

func (p PaymentConfirmation) validate(v *errs.ValidationError) {
	if p.PaymentID == "" {
		v.Add("structured_payload.payment_id", "is required")
	}
	if p.ProofImage == "" {
		v.Add("structured_payload.proof_image", "is required")
	}
}

func (Notice) validate(*errs.ValidationError) {}

func payloadRequired(t MessageType) bool {
	switch t {
	case MessageText, MessageSystemNotice, MessageRequestBookingDetails:
		return false
	}
	return true
}

// DecodePayload parses raw into the variant for t. Text messages carry no
// payload; unknown fields are rejected.
func DecodePayload(t MessageType, raw json.RawMessage) (Payload, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var p Payload
	switch t {
	case MessageText:
		return nil, fmt.Errorf("text messages take no structured payload")
	case MessageRequestBookingDetails:
		p = &BookingDetailsRequest{}
	case MessageBookingDetails:
		p = &BookingDetails{}
	case MessageRequestForm:
		p = &FormRequest{}
	case MessageFormResponse:
		p = &FormResponse{}
	case MessageRequestPayment:
		p = &PaymentRequested{}
	case MessagePaymentConfirmation:
		p = &PaymentConfirmation{}
	case MessageSystemNotice:
		p = &Notice{}
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("does not match %s: %v", t, err)
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *BookingDetailsRequest:
		return *v
	case *BookingDetails:
		return *v
	case *FormRequest:
		return *v
	case *FormResponse:
		return *v
	case *PaymentRequested:
		return *v
	case *PaymentConfirmation:
		return *v
	case *Notice:
		return *v
	}
	return p
}

// EncodePayload builds a draft body from a typed payload.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return b, nil
}
