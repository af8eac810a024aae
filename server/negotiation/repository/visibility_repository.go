package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type VisibilityRepository struct {
	pool *pgxpool.Pool
}

func NewVisibilityRepository(pool *pgxpool.Pool) *VisibilityRepository {
	return &VisibilityRepository{pool: pool}
}

func (r *VisibilityRepository) VisibilityRow(ctx context.Context, agencyID, fromUserID string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_user_id, can_see
		FROM visibility_entries
		WHERE agency_id=$1 AND from_user_id=$2
	`, agencyID, fromUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			toUserID string
			canSee   bool
		)
		if err := rows.Scan(&toUserID, &canSee); err != nil {
			return nil, err
		}
		out[toUserID] = canSee
	}
	return out, rows.Err()
}

func (r *VisibilityRepository) UpsertVisibility(ctx context.Context, agencyID, fromUserID, toUserID string, canSee bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO visibility_entries(agency_id, from_user_id, to_user_id, can_see, updated_at)
		VALUES($1, $2, $3, $4, NOW())
		ON CONFLICT (agency_id, from_user_id, to_user_id)
		DO UPDATE SET can_see = EXCLUDED.can_see, updated_at = NOW()
	`, agencyID, fromUserID, toUserID, canSee)
	return err
}

func (r *VisibilityRepository) CanSee(ctx context.Context, agencyID, fromUserID, toUserID string) (bool, error) {
	var canSee bool
	err := r.pool.QueryRow(ctx, `
		SELECT can_see FROM visibility_entries
		WHERE agency_id=$1 AND from_user_id=$2 AND to_user_id=$3
	`, agencyID, fromUserID, toUserID).Scan(&canSee)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return canSee, err
}

func (r *VisibilityRepository) SetPublic(ctx context.Context, agencyID, userID string, isPublic bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO public_profiles(agency_id, user_id, is_public, updated_at)
		VALUES($1, $2, $3, NOW())
		ON CONFLICT (agency_id, user_id)
		DO UPDATE SET is_public = EXCLUDED.is_public, updated_at = NOW()
	`, agencyID, userID, isPublic)
	return err
}

func (r *VisibilityRepository) IsPublic(ctx context.Context, agencyID, userID string) (bool, error) {
	var isPublic bool
	err := r.pool.QueryRow(ctx, `SELECT is_public FROM public_profiles WHERE agency_id=$1 AND user_id=$2`, agencyID, userID).Scan(&isPublic)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return isPublic, err
}

// PublicProfiles lists profiles published agency-wide or granted to at least
// one viewer.
func (r *VisibilityRepository) PublicProfiles(ctx context.Context, agencyID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM public_profiles WHERE agency_id=$1 AND is_public
		UNION
		SELECT from_user_id FROM visibility_entries WHERE agency_id=$1 AND can_see
		ORDER BY 1
	`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
