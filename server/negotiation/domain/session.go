package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"negotiation_server/server/common/errs"
)

// Role tags both the kind of a party and the author of a message.
type Role string

const (
	RoleGuest   Role = "guest"
	RoleUser    Role = "user"
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleAgency  Role = "agency"
	RoleSystem  Role = "system"
)

type ContextKind string

const (
	ContextHall   ContextKind = "hall"
	ContextAgency ContextKind = "agency"
)

// ParseRole accepts the "hall-owner" spelling used by older clients.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleGuest:
		return RoleGuest, true
	case RoleUser:
		return RoleUser, true
	case RoleOwner, "hall-owner", "hall_owner":
		return RoleOwner, true
	case RoleManager:
		return RoleManager, true
	case RoleAgency:
		return RoleAgency, true
	case RoleSystem:
		return RoleSystem, true
	}
	return "", false
}

// IsPartyA reports whether r can open a negotiation (the asking side).
func (r Role) IsPartyA() bool { return r == RoleGuest || r == RoleUser }

// IsPartyB reports whether r answers negotiations for a hall or agency.
func (r Role) IsPartyB() bool { return r == RoleOwner || r == RoleManager || r == RoleAgency }

type Session struct {
	ID          string      `json:"id"`
	PartyAKind  Role        `json:"party_a_kind"`
	PartyAID    string      `json:"party_a_id"`
	PartyBKind  Role        `json:"party_b_kind"`
	PartyBID    string      `json:"party_b_id"`
	ContextKind ContextKind `json:"context_kind"`
	ContextID   string      `json:"context_id"`
	ArchivedAt  *time.Time  `json:"archived_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (s Session) Archived() bool { return s.ArchivedAt != nil }

// Side returns which party of the session r speaks for.
func (s Session) Side(r Role) (Side, bool) {
	switch {
	case r == s.PartyAKind:
		return SideA, true
	case r == s.PartyBKind:
		return SideB, true
	case r == RoleManager && s.PartyBKind == RoleOwner, r == RoleOwner && s.PartyBKind == RoleManager:
		// hall staff answer for each other
		return SideB, true
	}
	return "", false
}

type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// SessionKey is the identity tuple: at most one session per key.
type SessionKey struct {
	PartyAKind Role   `json:"party_a_kind"`
	PartyAID   string `json:"party_a_id"`
	PartyBKind Role   `json:"party_b_kind"`
	PartyBID   string `json:"party_b_id"`
	ContextID  string `json:"context_id"`
}

func (k SessionKey) ContextKind() ContextKind {
	if k.PartyBKind == RoleAgency {
		return ContextAgency
	}
	return ContextHall
}

func (k SessionKey) Normalize() SessionKey {
	k.PartyAID = strings.TrimSpace(k.PartyAID)
	k.PartyBID = strings.TrimSpace(k.PartyBID)
	k.ContextID = strings.TrimSpace(k.ContextID)
	if r, ok := ParseRole(string(k.PartyAKind)); ok {
		k.PartyAKind = r
	}
	if r, ok := ParseRole(string(k.PartyBKind)); ok {
		k.PartyBKind = r
	}
	return k
}

func (k SessionKey) Validate() error {
	v := &errs.ValidationError{}
	if !k.PartyAKind.IsPartyA() {
		v.Add("party_a_kind", "must be guest or user")
	}
	if !k.PartyBKind.IsPartyB() {
		v.Add("party_b_kind", "must be owner, manager or agency")
	}
	if msg := checkID(k.PartyAID); msg != "" {
		v.Add("party_a_id", msg)
	}
	if msg := checkID(k.PartyBID); msg != "" {
		v.Add("party_b_id", msg)
	}
	if msg := checkID(k.ContextID); msg != "" {
		v.Add("context_id", msg)
	}
	if k.PartyBKind == RoleAgency && k.ContextID != "" && k.ContextID != k.PartyBID {
		v.Add("context_id", "must equal party_b_id for agency sessions")
	}
	return v.OrNil()
}

func (k SessionKey) NewSession() Session {
	return Session{
		PartyAKind:  k.PartyAKind,
		PartyAID:    k.PartyAID,
		PartyBKind:  k.PartyBKind,
		PartyBID:    k.PartyBID,
		ContextKind: k.ContextKind(),
		ContextID:   k.ContextID,
	}
}

const maxIDLength = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]*$`)

func checkID(id string) string {
	switch {
	case id == "":
		return "is required"
	case len(id) > maxIDLength:
		return fmt.Sprintf("must be at most %d characters", maxIDLength)
	case !idPattern.MatchString(id):
		return "contains invalid characters"
	}
	return ""
}

// ValidateID checks an opaque party, agency or profile identifier.
func ValidateID(field, id string) error {
	if msg := checkID(id); msg != "" {
		return errs.Invalid(field, msg)
	}
	return nil
}

// ValidateSessionID checks a session, message or payment id, which are UUIDs.
func ValidateSessionID(field, id string) error {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return errs.Invalid(field, "must be a UUID")
	}
	return nil
}

type SessionSummary struct {
	Session
	LastMessage   *Message   `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int64      `json:"unread_count"`
}

// ActivityAt orders the inbox: last message time, else creation time.
func (s SessionSummary) ActivityAt() time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return s.CreatedAt
}

const hallRoomPrefix = "hall:"

// RoomKey names a realtime room. A key is either a session id or the
// hall-chat pair hall:{hallId}:{bookingId}.
type RoomKey struct {
	SessionID string
	HallID    string
	BookingID string
}

func ParseRoomKey(raw string) (RoomKey, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, hallRoomPrefix) {
		parts := strings.Split(strings.TrimPrefix(raw, hallRoomPrefix), ":")
		if len(parts) != 2 || checkID(parts[0]) != "" || checkID(parts[1]) != "" {
			return RoomKey{}, errs.Invalid("room", "hall room must be hall:{hallId}:{bookingId}")
		}
		return RoomKey{HallID: parts[0], BookingID: parts[1]}, nil
	}
	if err := ValidateSessionID("room", raw); err != nil {
		return RoomKey{}, err
	}
	return RoomKey{SessionID: raw}, nil
}

func HallRoomKey(hallID, bookingID string) string {
	return hallRoomPrefix + hallID + ":" + bookingID
}
