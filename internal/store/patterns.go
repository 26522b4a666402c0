package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazypower/foresight/internal/models"
)

// ReplacePatterns overwrites every stored pattern for userID with patterns.
// There is no incremental merge; a period missing from patterns is removed.
func (db *DB) ReplacePatterns(ctx context.Context, userID string, patterns []models.Pattern) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace patterns: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear patterns: %w", err)
	}

	for _, p := range patterns {
		peaks, err := json.Marshal(nonNilInts(p.PeakTimes))
		if err != nil {
			return fmt.Errorf("encode peaks: %w", err)
		}
		ids, err := json.Marshal(nonNilStrings(p.ContentIDs))
		if err != nil {
			return fmt.Errorf("encode content ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patterns (user_id, period_hours, type, confidence, peak_times, content_ids, formed_at, stable_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, userID, p.PeriodHours, string(p.Type), p.Confidence, string(peaks), string(ids),
			p.FormedAt.UnixMilli(), p.StableAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert pattern %d: %w", p.PeriodHours, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patterns: %w", err)
	}
	return nil
}

// PatternsForUser returns a user's patterns ordered by period.
func (db *DB) PatternsForUser(ctx context.Context, userID string) ([]models.Pattern, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, period_hours, type, confidence, peak_times, content_ids, formed_at, stable_at
		FROM patterns WHERE user_id = ? ORDER BY period_hours
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("patterns for user: %w", err)
	}
	defer rows.Close()

	var out []models.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetPattern returns the pattern for (userID, periodHours), or nil if none.
func (db *DB) GetPattern(ctx context.Context, userID string, periodHours int) (*models.Pattern, error) {
	row := db.QueryRowContext(ctx, `
		SELECT user_id, period_hours, type, confidence, peak_times, content_ids, formed_at, stable_at
		FROM patterns WHERE user_id = ? AND period_hours = ?
	`, userID, periodHours)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// CountPatterns returns the number of stored patterns across all users.
func (db *DB) CountPatterns(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return n, nil
}

func scanPattern(r rowScanner) (*models.Pattern, error) {
	var p models.Pattern
	var typ, peaks, ids string
	var formed, stable int64
	err := r.Scan(&p.UserID, &p.PeriodHours, &typ, &p.Confidence, &peaks, &ids, &formed, &stable)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan pattern: %w", err)
	}
	p.Type = models.PatternType(typ)
	if err := json.Unmarshal([]byte(peaks), &p.PeakTimes); err != nil {
		return nil, fmt.Errorf("decode peaks: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &p.ContentIDs); err != nil {
		return nil, fmt.Errorf("decode content ids: %w", err)
	}
	p.FormedAt = time.UnixMilli(formed)
	p.StableAt = time.UnixMilli(stable)
	return &p, nil
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
