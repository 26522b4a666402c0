// Package archive implements the archival tier: content blobs written to a
// local directory or an S3 bucket, one JSON object per item.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/lazypower/foresight/internal/models"
)

// Local stores archived items as files under a root directory.
type Local struct {
	root string
}

// NewLocal creates root if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("archive: local root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(id string) string {
	// Escape so ids cannot traverse out of root.
	return filepath.Join(l.root, url.PathEscape(id)+".json")
}

// Get reads an archived item, or nil if absent.
func (l *Local) Get(ctx context.Context, id string) (*models.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", id, err)
	}
	var c models.Content
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", id, err)
	}
	return &c, nil
}

// Put writes c atomically: a temp file is renamed over the final name, so
// a reader sees the old blob or the new one, never a partial write.
func (l *Local) Put(ctx context.Context, c *models.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode archive %s: %w", c.ID, err)
	}
	tmp, err := os.CreateTemp(l.root, ".put-*")
	if err != nil {
		return fmt.Errorf("archive temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write archive %s: %w", c.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close archive %s: %w", c.ID, err)
	}
	if err := os.Rename(tmp.Name(), l.path(c.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit archive %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes an archived item. A missing item is not an error.
func (l *Local) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(l.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete archive %s: %w", id, err)
	}
	return nil
}
