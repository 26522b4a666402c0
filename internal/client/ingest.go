package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lazypower/foresight/internal/models"
)

// ErrServerDown is returned by Ingest when the health check fails before any
// line is read.
var ErrServerDown = errors.New("foresight server unreachable")

// IngestResult counts what Ingest did with its input.
type IngestResult struct {
	Sent    int
	Skipped int
	Failed  int
}

// Ingest reads newline-delimited access events from r and posts each one.
// Blank lines are ignored; malformed lines and events the server rejects are
// counted and skipped so one bad record does not stop a long feed.
func (c *Client) Ingest(ctx context.Context, r io.Reader) (IngestResult, error) {
	var res IngestResult
	if !c.Healthy(ctx) {
		return res, ErrServerDown
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev models.AccessEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.UserID == "" || ev.ContentID == "" {
			res.Skipped++
			continue
		}
		if err := c.RecordAccess(ctx, ev); err != nil {
			var se *StatusError
			if !errors.As(err, &se) {
				return res, err
			}
			res.Failed++
			continue
		}
		res.Sent++
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read events: %w", err)
	}
	return res, nil
}
