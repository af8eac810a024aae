package service

import (
	"context"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/common/infra/directory"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
)

// VisibilityMatrix gates which profiles of an agency's clients are shown to
// which other clients. Absent entries deny. A public profile is visible to
// every paid client regardless of the matrix.
type VisibilityMatrix struct {
	store     VisibilityStore
	directory Directory
	events    *eventSink
}

func NewVisibilityMatrix(store VisibilityStore, dir Directory, publisher EventPublisher) *VisibilityMatrix {
	if dir == nil {
		dir = directory.AllowAll{}
	}
	return &VisibilityMatrix{store: store, directory: dir, events: newEventSink(publisher)}
}

func (v *VisibilityMatrix) Get(ctx context.Context, agencyID, fromUserID string) (map[string]bool, error) {
	if err := v.requirePaid(ctx, agencyID, fromUserID); err != nil {
		return nil, err
	}
	return v.store.VisibilityRow(ctx, agencyID, fromUserID)
}

func (v *VisibilityMatrix) IsVisible(ctx context.Context, agencyID, fromUserID, toUserID string) (bool, error) {
	if err := v.requirePaid(ctx, agencyID, fromUserID); err != nil {
		return false, err
	}
	if err := domain.ValidateID("to_user_id", toUserID); err != nil {
		return false, err
	}
	if err := v.requirePaid(ctx, agencyID, toUserID); err != nil {
		return false, err
	}
	if fromUserID == toUserID {
		return true, nil
	}
	public, err := v.store.IsPublic(ctx, agencyID, fromUserID)
	if err != nil || public {
		return public, err
	}
	return v.store.CanSee(ctx, agencyID, fromUserID, toUserID)
}

// ApplyDiff grants the desired viewers and revokes the rest of the current
// grants, one upsert per changed viewer. Viewers outside the diff are not
// written, so concurrent edits to other cells survive.
func (v *VisibilityMatrix) ApplyDiff(ctx context.Context, agencyID, fromUserID string, desired []string) (domain.VisibilityDiff, error) {
	if err := v.requirePaid(ctx, agencyID, fromUserID); err != nil {
		return domain.VisibilityDiff{}, err
	}
	desired = domain.SortedUnique(desired)
	if err := domain.ValidateDesiredSet(fromUserID, desired); err != nil {
		return domain.VisibilityDiff{}, err
	}
	current, err := v.store.VisibilityRow(ctx, agencyID, fromUserID)
	if err != nil {
		return domain.VisibilityDiff{}, err
	}
	diff := domain.ComputeVisibilityDiff(current, desired)
	for _, toUserID := range diff.Additions {
		if err := v.store.UpsertVisibility(ctx, agencyID, fromUserID, toUserID, true); err != nil {
			return domain.VisibilityDiff{}, err
		}
	}
	for _, toUserID := range diff.Removals {
		if err := v.store.UpsertVisibility(ctx, agencyID, fromUserID, toUserID, false); err != nil {
			return domain.VisibilityDiff{}, err
		}
	}
	commonlog.Infof("event=visibility_diff action=apply status=ok agency_id=%s from_user_id=%s added=%d removed=%d", agencyID, fromUserID, len(diff.Additions), len(diff.Removals))
	if !diff.Empty() {
		v.events.emit(ctx, RouteVisibilityUpdated, VisibilityUpdatedEvent{AgencyID: agencyID, FromUserID: fromUserID, Diff: diff})
	}
	return diff, nil
}

func (v *VisibilityMatrix) SetPublic(ctx context.Context, agencyID, userID string, isPublic bool) error {
	if err := v.requirePaid(ctx, agencyID, userID); err != nil {
		return err
	}
	if err := v.store.SetPublic(ctx, agencyID, userID, isPublic); err != nil {
		return err
	}
	commonlog.Infof("event=visibility_public action=set status=ok agency_id=%s user_id=%s is_public=%t", agencyID, userID, isPublic)
	return nil
}

// ListPublicProfiles returns profiles published agency-wide or granted to at
// least one viewer, sorted.
func (v *VisibilityMatrix) ListPublicProfiles(ctx context.Context, agencyID string) ([]string, error) {
	if err := domain.ValidateID("agency_id", agencyID); err != nil {
		return nil, err
	}
	return v.store.PublicProfiles(ctx, agencyID)
}

func (v *VisibilityMatrix) requirePaid(ctx context.Context, agencyID, userID string) error {
	verr := &errs.ValidationError{}
	if err := domain.ValidateID("agency_id", agencyID); err != nil {
		verr.Add("agency_id", "is invalid")
	}
	if err := domain.ValidateID("user_id", userID); err != nil {
		verr.Add("user_id", "is invalid")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}
	paid, err := v.directory.IsPaidClient(ctx, agencyID, userID)
	if err != nil {
		return err
	}
	if !paid {
		return errs.Forbidden("%s is not a verified paid client of %s", userID, agencyID)
	}
	return nil
}
