package domain

import (
	"sort"
	"time"

	"negotiation_server/server/common/errs"
)

type VisibilityEntry struct {
	AgencyID   string    `json:"agency_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	CanSee     bool      `json:"can_see"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type VisibilityDiff struct {
	Additions []string `json:"additions"`
	Removals  []string `json:"removals"`
}

func (d VisibilityDiff) Empty() bool {
	return len(d.Additions) == 0 && len(d.Removals) == 0
}

// ComputeVisibilityDiff compares the viewers currently granted (canSee=true
// in current) with the desired set. Viewers in neither are left alone.
func ComputeVisibilityDiff(current map[string]bool, desired []string) VisibilityDiff {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	diff := VisibilityDiff{Additions: []string{}, Removals: []string{}}
	for id := range want {
		if !current[id] {
			diff.Additions = append(diff.Additions, id)
		}
	}
	for id, canSee := range current {
		if _, keep := want[id]; canSee && !keep {
			diff.Removals = append(diff.Removals, id)
		}
	}
	sort.Strings(diff.Additions)
	sort.Strings(diff.Removals)
	return diff
}

func ValidateDesiredSet(fromUserID string, desired []string) error {
	v := &errs.ValidationError{}
	for _, id := range desired {
		if id == fromUserID {
			v.Add("desired_visible_set", "must not contain the profile owner")
			continue
		}
		if msg := checkID(id); msg != "" {
			v.Add("desired_visible_set", id+" "+msg)
		}
	}
	return v.OrNil()
}

// SortedUnique returns ids sorted with duplicates removed.
func SortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
