package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazypower/foresight/internal/models"
)

const contentColumns = `id, user_id, body, context, created_at, last_access`

const qualifiedContentColumns = `c.id, c.user_id, c.body, c.context, c.created_at, c.last_access`

// PutContent inserts or replaces a content item. CreatedAt is preserved for
// existing rows; LastAccessAt defaults to now when zero.
func (db *DB) PutContent(ctx context.Context, c *models.Content) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastAccessAt.IsZero() {
		c.LastAccessAt = now
	}
	frame, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO content (id, user_id, body, context, created_at, updated_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			body = excluded.body,
			context = excluded.context,
			updated_at = excluded.updated_at,
			last_access = MAX(content.last_access, excluded.last_access)
	`, c.ID, c.UserID, c.Body, string(frame),
		c.CreatedAt.UnixMilli(), now.UnixMilli(), c.LastAccessAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put content: %w", err)
	}
	return nil
}

// GetContent returns a content item by id, or nil if not found.
func (db *DB) GetContent(ctx context.Context, id string) (*models.Content, error) {
	row := db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content WHERE id = ?`, id)
	c, err := scanContent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return c, nil
}

// DeleteContent removes the authoritative copy. Deleting a missing id is not
// an error.
func (db *DB) DeleteContent(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return nil
}

// TouchContent records a read. last_access only moves forward.
func (db *DB) TouchContent(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE content SET last_access = MAX(last_access, ?) WHERE id = ?
	`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch content: %w", err)
	}
	return nil
}

// QueryByLastAccess returns items whose last read is strictly before cutoff,
// oldest first. Items already placed in the archival tier are skipped so a
// sweep always makes progress.
func (db *DB) QueryByLastAccess(ctx context.Context, before time.Time, limit int) ([]models.Content, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+qualifiedContentColumns+` FROM content c
		LEFT JOIN tier_state ts ON ts.content_id = c.id
		WHERE c.last_access < ? AND COALESCE(ts.tier, 'durable') != 'archival'
		ORDER BY c.last_access ASC, c.id ASC
		LIMIT ?
	`, before.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query by last access: %w", err)
	}
	defer rows.Close()
	return scanContents(rows)
}

// ListContentByUser returns a user's items, most recently read first. When
// activeOnly is set, archived items are left out.
func (db *DB) ListContentByUser(ctx context.Context, userID string, activeOnly bool, limit int) ([]models.Content, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+qualifiedContentColumns+` FROM content c
		LEFT JOIN tier_state ts ON ts.content_id = c.id
		WHERE c.user_id = ? AND (? = 0 OR COALESCE(ts.tier, 'durable') != 'archival')
		ORDER BY c.last_access DESC, c.id ASC
		LIMIT ?
	`, userID, boolInt(activeOnly), limit)
	if err != nil {
		return nil, fmt.Errorf("list content by user: %w", err)
	}
	defer rows.Close()
	return scanContents(rows)
}

// CountContent returns the number of items held in the durable tier.
func (db *DB) CountContent(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count content: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(r rowScanner) (*models.Content, error) {
	var c models.Content
	var frame string
	var createdAt, lastAccess int64
	if err := r.Scan(&c.ID, &c.UserID, &c.Body, &frame, &createdAt, &lastAccess); err != nil {
		return nil, err
	}
	if frame != "" {
		if err := json.Unmarshal([]byte(frame), &c.Context); err != nil {
			return nil, fmt.Errorf("decode context for %s: %w", c.ID, err)
		}
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	c.LastAccessAt = time.UnixMilli(lastAccess)
	return &c, nil
}

func scanContents(rows *sql.Rows) ([]models.Content, error) {
	var out []models.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
