package service

import (
	"negotiation_server/server/common/errs"
	"negotiation_server/server/negotiation/domain"
)

// Caller is the party behind a request as stated by its bearer token. The
// zero Caller is anonymous, which is how guests connect.
type Caller struct {
	PartyID string
	Role    domain.Role
}

func (c Caller) Anonymous() bool { return c.Role == "" }

// AuthorizeSession lets an authenticated caller act on s only when it is one
// of the parties. Anonymous callers are let through.
func AuthorizeSession(s domain.Session, c Caller) error {
	if c.Anonymous() {
		return nil
	}
	side, ok := s.Side(c.Role)
	if !ok {
		return errs.Forbidden("%s is not a party of session %s", c.Role, s.ID)
	}
	switch side {
	case domain.SideA:
		if c.PartyID == s.PartyAID {
			return nil
		}
	case domain.SideB:
		if c.PartyID == s.PartyBID || c.PartyID == s.ContextID {
			return nil
		}
	}
	return errs.Forbidden("%s is not a party of session %s", c.PartyID, s.ID)
}

// AuthorizeSender requires an authenticated caller to send as its own role.
func AuthorizeSender(c Caller, sender domain.Role) error {
	if c.Anonymous() {
		return nil
	}
	if parsed, ok := domain.ParseRole(string(sender)); !ok || parsed != c.Role {
		return errs.Forbidden("token role %s cannot send as %s", c.Role, sender)
	}
	return nil
}
