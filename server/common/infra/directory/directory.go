package directory

import (
	"context"
	"errors"
	"fmt"

	"negotiation_server/server/common/errs"
)

// Parties names everyone a negotiation session would bind together.
type Parties struct {
	PartyAKind  string `json:"party_a_kind"`
	PartyAID    string `json:"party_a_id"`
	PartyBKind  string `json:"party_b_kind"`
	PartyBID    string `json:"party_b_id"`
	ContextKind string `json:"context_kind"`
	ContextID   string `json:"context_id"`
}

type Service struct {
	client *Client
}

func NewService(client *Client) *Service {
	return &Service{client: client}
}

// CheckParties asks the catalog whether the hall/agency exists and whether
// party B may negotiate on its behalf. Anonymous guests are not looked up.
func (s *Service) CheckParties(ctx context.Context, p Parties) error {
	var resp struct {
		OK      bool   `json:"ok"`
		Missing string `json:"missing"`
	}
	if err := s.client.Post(ctx, BasePath+"/parties/check", p, &resp); err != nil {
		return err
	}
	if !resp.OK {
		missing := resp.Missing
		if missing == "" {
			missing = p.ContextKind
		}
		return errs.NotFound(missing, idFor(missing, p))
	}
	return nil
}

func (s *Service) IsPaidClient(ctx context.Context, agencyID, userID string) (bool, error) {
	payload := map[string]string{"agency_id": agencyID, "user_id": userID}
	var resp struct {
		Paid     bool `json:"paid"`
		Verified bool `json:"verified"`
	}
	if err := s.client.Post(ctx, BasePath+"/clients/check", payload, &resp); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check client %s of %s: %w", userID, agencyID, err)
	}
	return resp.Paid && resp.Verified, nil
}

func idFor(kind string, p Parties) string {
	switch kind {
	case p.PartyAKind:
		return p.PartyAID
	case p.PartyBKind:
		return p.PartyBID
	default:
		return p.ContextID
	}
}

// AllowAll accepts every party and treats every user as a paid client. It
// backs local development when no directory endpoint is configured.
type AllowAll struct{}

func (AllowAll) CheckParties(context.Context, Parties) error { return nil }

func (AllowAll) IsPaidClient(context.Context, string, string) (bool, error) { return true, nil }
