package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazypower/foresight/internal/models"
)

// SetDeviceContext records the current context frame for a user's device.
func (db *DB) SetDeviceContext(ctx context.Context, userID, deviceID string, frame models.ContextFrame, at time.Time) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO device_contexts (user_id, device_id, context, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at
	`, userID, deviceID, string(data), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("set device context: %w", err)
	}
	return nil
}

// ClearDeviceContext removes a device's context. Returns false if none was set.
func (db *DB) ClearDeviceContext(ctx context.Context, userID, deviceID string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM device_contexts WHERE user_id = ? AND device_id = ?`, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("clear device context: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LatestContext returns the most recently set context across a user's
// devices, or nil if none is set.
func (db *DB) LatestContext(ctx context.Context, userID string) (*models.ContextFrame, error) {
	var data string
	err := db.QueryRowContext(ctx, `
		SELECT context FROM device_contexts WHERE user_id = ?
		ORDER BY updated_at DESC, device_id ASC LIMIT 1
	`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest context: %w", err)
	}
	var frame models.ContextFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &frame, nil
}
