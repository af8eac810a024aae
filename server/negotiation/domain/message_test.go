package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"negotiation_server/server/common/errs"
)

func hallSession() Session {
	return Session{ID: "s1", PartyAKind: RoleGuest, PartyAID: "g1", PartyBKind: RoleOwner, PartyBID: "o1", ContextKind: ContextHall, ContextID: "h1"}
}

func validationFields(t *testing.T, err error) *errs.ValidationError {
	t.Helper()
	var ve *errs.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	return ve
}

func TestDraftTextFromEitherSide(t *testing.T) {
	s := hallSession()
	for _, sender := range []Role{RoleGuest, RoleOwner, RoleManager} {
		d := MessageDraft{Sender: sender, Text: "hello"}.Normalize()
		assert.NoError(t, d.ValidateFor(s), sender)
	}

	d := MessageDraft{Sender: RoleGuest, Text: "  "}.Normalize()
	assert.True(t, validationFields(t, d.ValidateFor(s)).HasField("text"))
}

func TestDraftRejectsStranger(t *testing.T) {
	d := MessageDraft{Sender: RoleAgency, Text: "hi"}.Normalize()
	assert.True(t, validationFields(t, d.ValidateFor(hallSession())).HasField("sender"))

	d = MessageDraft{Sender: RoleSystem, Type: MessageText, Text: "hi"}
	assert.True(t, validationFields(t, d.ValidateFor(hallSession())).HasField("sender"))
}

func TestDraftRejectsInvalidUTF8(t *testing.T) {
	d := MessageDraft{Sender: RoleGuest, Text: "caf\xe9"}.Normalize()
	assert.True(t, validationFields(t, d.ValidateFor(hallSession())).HasField("text"))

	d = MessageDraft{Sender: RoleGuest, SenderIdentity: "\xff@example.com", Text: "hi"}.Normalize()
	assert.True(t, validationFields(t, d.ValidateFor(hallSession())).HasField("sender_identity"))
}

func TestDraftSideRules(t *testing.T) {
	s := hallSession()
	form := json.RawMessage(`{"form_id":"f1","questions":[{"key":"budget","label":"Budget"}]}`)

	ok := MessageDraft{Sender: RoleOwner, Type: MessageRequestForm, Payload: form}
	assert.NoError(t, ok.ValidateFor(s))

	wrong := MessageDraft{Sender: RoleGuest, Type: MessageRequestForm, Payload: form}
	assert.True(t, validationFields(t, wrong.ValidateFor(s)).HasField("type"))

	answer := MessageDraft{Sender: RoleGuest, Type: MessageFormResponse, Payload: json.RawMessage(`{"form_id":"f1","answers":{"budget":"500k"}}`)}
	assert.NoError(t, answer.ValidateFor(s))

	ask := MessageDraft{Sender: RoleOwner, Type: MessageRequestBookingDetails}
	assert.NoError(t, ask.ValidateFor(s))
}

func TestDraftReservedTypes(t *testing.T) {
	s := hallSession()
	for _, typ := range []MessageType{MessageRequestPayment, MessagePaymentConfirmation, MessageSystemNotice} {
		assert.True(t, typ.Reserved())
		d := MessageDraft{Sender: RoleOwner, Type: typ, Text: "x", Payload: json.RawMessage(`{"payment_id":"p1","proof_image":"k"}`)}
		assert.True(t, validationFields(t, d.ValidateFor(s)).HasField("type"), typ)
	}

	notice := MessageDraft{Sender: RoleSystem, Type: MessageSystemNotice, Text: NoticeVerified}
	assert.NoError(t, notice.ValidateWorkflow(s))
}

func TestDraftPayloadShape(t *testing.T) {
	s := hallSession()

	missing := MessageDraft{Sender: RoleGuest, Type: MessageBookingDetails}
	assert.True(t, validationFields(t, missing.ValidateFor(s)).HasField("structured_payload"))

	unknownField := MessageDraft{Sender: RoleGuest, Type: MessageBookingDetails, Payload: json.RawMessage(`{"event_date":"2026-12-01","colour":"red"}`)}
	assert.True(t, validationFields(t, unknownField.ValidateFor(s)).HasField("structured_payload"))

	invalid := MessageDraft{Sender: RoleGuest, Type: MessageBookingDetails, Payload: json.RawMessage(`{"guest_count":-1}`)}
	ve := validationFields(t, invalid.ValidateFor(s))
	assert.True(t, ve.HasField("structured_payload.event_date"))
	assert.True(t, ve.HasField("structured_payload.guest_count"))

	textWithPayload := MessageDraft{Sender: RoleGuest, Text: "hi", Payload: json.RawMessage(`{"a":1}`)}.Normalize()
	assert.True(t, validationFields(t, textWithPayload.ValidateFor(s)).HasField("structured_payload"))

	unknownType := MessageDraft{Sender: RoleGuest, Type: "poll"}
	assert.True(t, validationFields(t, unknownType.ValidateFor(s)).HasField("type"))
}

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := EncodePayload(PaymentConfirmation{PaymentID: "p1", ProofImage: "payments/p1/a.png"})
	require.NoError(t, err)

	p, err := DecodePayload(MessagePaymentConfirmation, raw)
	require.NoError(t, err)
	conf, ok := p.(PaymentConfirmation)
	require.True(t, ok)
	assert.Equal(t, "payments/p1/a.png", conf.ProofImage)

	p, err = Message{Type: MessageText}.Decode()
	require.NoError(t, err)
	assert.Nil(t, p)
}
