package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lazypower/foresight/internal/models"
)

// GetState returns the placement record for id, or nil if untracked.
func (db *DB) GetState(ctx context.Context, id string) (*models.TierState, error) {
	var st models.TierState
	var tier string
	var at int64
	err := db.QueryRowContext(ctx, `
		SELECT content_id, tier, last_transition_at, access_frequency FROM tier_state WHERE content_id = ?
	`, id).Scan(&st.ContentID, &tier, &at, &st.AccessFrequency)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tier state: %w", err)
	}
	st.Tier = models.Tier(tier)
	st.LastTransitionAt = time.UnixMilli(at)
	return &st, nil
}

// PutState upserts a placement record.
func (db *DB) PutState(ctx context.Context, st models.TierState) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tier_state (content_id, tier, last_transition_at, access_frequency)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			tier = excluded.tier,
			last_transition_at = excluded.last_transition_at,
			access_frequency = excluded.access_frequency
	`, st.ContentID, string(st.Tier), st.LastTransitionAt.UnixMilli(), st.AccessFrequency)
	if err != nil {
		return fmt.Errorf("put tier state: %w", err)
	}
	return nil
}

// DeleteState forgets the placement of id.
func (db *DB) DeleteState(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM tier_state WHERE content_id = ?`, id); err != nil {
		return fmt.Errorf("delete tier state: %w", err)
	}
	return nil
}

// CountByTier returns the number of tracked items per tier.
func (db *DB) CountByTier(ctx context.Context) (map[models.Tier]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM tier_state GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count by tier: %w", err)
	}
	defer rows.Close()

	counts := map[models.Tier]int{
		models.TierFast:     0,
		models.TierDurable:  0,
		models.TierArchival: 0,
	}
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		counts[models.Tier(tier)] = n
	}
	return counts, rows.Err()
}
