package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"negotiation_server/server/common/errs"
)

type MessageType string

const (
	MessageText                  MessageType = "text"
	MessageRequestBookingDetails MessageType = "requestBookingDetails"
	MessageBookingDetails        MessageType = "bookingDetails"
	MessageRequestForm           MessageType = "requestForm"
	MessageFormResponse          MessageType = "formResponse"
	MessageRequestPayment        MessageType = "requestPayment"
	MessagePaymentConfirmation   MessageType = "paymentConfirmation"
	MessageSystemNotice          MessageType = "systemNotice"
)

const MaxTextLength = 4000

type author int

const (
	authorEither author = iota
	authorA
	authorB
	authorWorkflow
)

var messageAuthors = map[MessageType]author{
	MessageText:                  authorEither,
	MessageRequestBookingDetails: authorB,
	MessageBookingDetails:        authorA,
	MessageRequestForm:           authorB,
	MessageFormResponse:          authorA,
	MessageRequestPayment:        authorWorkflow,
	MessagePaymentConfirmation:   authorWorkflow,
	MessageSystemNotice:          authorWorkflow,
}

func (t MessageType) Known() bool {
	_, ok := messageAuthors[t]
	return ok
}

// Reserved reports whether only the payment workflow may append t.
func (t MessageType) Reserved() bool {
	return messageAuthors[t] == authorWorkflow
}

type Message struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Seq            int64           `json:"seq"`
	Sender         Role            `json:"sender"`
	SenderIdentity string          `json:"sender_identity,omitempty"`
	Type           MessageType     `json:"type"`
	Text           string          `json:"text,omitempty"`
	Payload        json.RawMessage `json:"structured_payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ReadBy         []Role          `json:"read_by"`
}

// Decode returns the typed payload, or nil for plain text.
func (m Message) Decode() (Payload, error) {
	return DecodePayload(m.Type, m.Payload)
}

// MessageDraft is what a client or the payment workflow asks to append.
type MessageDraft struct {
	Sender         Role            `json:"sender"`
	SenderIdentity string          `json:"sender_identity,omitempty"`
	Type           MessageType     `json:"type"`
	Text           string          `json:"text,omitempty"`
	Payload        json.RawMessage `json:"structured_payload,omitempty"`
	ClientMsgID    string          `json:"client_msg_id,omitempty"`
}

func (d MessageDraft) Normalize() MessageDraft {
	if r, ok := ParseRole(string(d.Sender)); ok {
		d.Sender = r
	}
	d.SenderIdentity = strings.TrimSpace(d.SenderIdentity)
	d.Text = strings.TrimSpace(d.Text)
	d.ClientMsgID = strings.TrimSpace(d.ClientMsgID)
	if d.Type == "" {
		d.Type = MessageText
	}
	if isNullJSON(d.Payload) {
		d.Payload = nil
	}
	return d
}

// ValidateFor checks a client draft against session s: the sender must speak
// for one side of s and that side must be allowed to author the type.
func (d MessageDraft) ValidateFor(s Session) error {
	return d.validate(s, false)
}

// ValidateWorkflow checks a draft produced by the payment workflow.
func (d MessageDraft) ValidateWorkflow(s Session) error {
	return d.validate(s, true)
}

func (d MessageDraft) validate(s Session, workflow bool) error {
	v := &errs.ValidationError{}
	if !d.Type.Known() {
		return v.Add("type", "unknown message type").OrNil()
	}
	rule := messageAuthors[d.Type]

	side, onSession := s.Side(d.Sender)
	switch {
	case d.Sender == RoleSystem:
		if !workflow {
			v.Add("sender", "system messages are reserved")
		}
	case !onSession:
		v.Add("sender", "is not a party of this session")
	}

	switch rule {
	case authorWorkflow:
		if !workflow {
			v.Add("type", "is reserved for the payment workflow")
		}
	case authorA:
		if onSession && side != SideA {
			v.Add("type", "may only be sent by "+string(s.PartyAKind))
		}
	case authorB:
		if onSession && side != SideB {
			v.Add("type", "may only be sent by "+string(s.PartyBKind))
		}
	}

	if d.Type == MessageText || d.Type == MessageSystemNotice {
		if d.Text == "" {
			v.Add("text", "is required")
		}
	}
	if !utf8.ValidString(d.Text) {
		v.Add("text", "must be valid UTF-8")
	} else if utf8.RuneCountInString(d.Text) > MaxTextLength {
		v.Add("text", "is too long")
	}
	if !utf8.ValidString(d.SenderIdentity) {
		v.Add("sender_identity", "must be valid UTF-8")
	}
	if len(d.SenderIdentity) > 320 {
		v.Add("sender_identity", "is too long")
	}

	p, err := DecodePayload(d.Type, d.Payload)
	if err != nil {
		v.Add("structured_payload", err.Error())
	} else if p != nil {
		p.validate(v)
	} else if payloadRequired(d.Type) {
		v.Add("structured_payload", "is required")
	}
	return v.OrNil()
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
