package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazypower/foresight/internal/models"
)

// AppendEvent records an access. Events are never updated.
func (db *DB) AppendEvent(ctx context.Context, ev models.AccessEvent) error {
	frame, err := json.Marshal(ev.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO access_events (user_id, content_id, ts, context) VALUES (?, ?, ?, ?)
	`, ev.UserID, ev.ContentID, ev.Timestamp.UnixMilli(), string(frame))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsForUser returns a user's events at or after since, oldest first.
func (db *DB) EventsForUser(ctx context.Context, userID string, since time.Time) ([]models.AccessEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, content_id, ts, context FROM access_events
		WHERE user_id = ? AND ts >= ?
		ORDER BY ts ASC, id ASC
	`, userID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("events for user: %w", err)
	}
	defer rows.Close()

	var out []models.AccessEvent
	for rows.Next() {
		var ev models.AccessEvent
		var ts int64
		var frame string
		if err := rows.Scan(&ev.UserID, &ev.ContentID, &ts, &frame); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		if frame != "" {
			if err := json.Unmarshal([]byte(frame), &ev.Context); err != nil {
				return nil, fmt.Errorf("decode event context: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UsersWithEvents lists users that have at least one event at or after since.
func (db *DB) UsersWithEvents(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM access_events WHERE ts >= ? ORDER BY user_id
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("users with events: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// PruneEvents deletes events older than before and returns how many went.
func (db *DB) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM access_events WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
