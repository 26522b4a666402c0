package tier

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lazypower/foresight/internal/models"
)

var errDown = errors.New("connection refused")

type fastEntry struct {
	c       models.Content
	ttl     time.Duration
	setAt   time.Time
	version int
}

type memFast struct {
	mu      sync.Mutex
	entries map[string]*fastEntry
	sets    int
	down    bool
	now     func() time.Time
}

func newMemFast(now func() time.Time) *memFast {
	return &memFast{entries: make(map[string]*fastEntry), now: now}
}

func (f *memFast) Get(_ context.Context, id string) (*models.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errDown
	}
	e, ok := f.entries[id]
	if !ok || f.now().Sub(e.setAt) >= e.ttl {
		return nil, nil
	}
	c := e.c
	return &c, nil
}

func (f *memFast) SetWithTTL(_ context.Context, c *models.Content, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	f.sets++
	prev := 0
	if e, ok := f.entries[c.ID]; ok {
		prev = e.version
	}
	f.entries[c.ID] = &fastEntry{c: *c, ttl: ttl, setAt: f.now(), version: prev + 1}
	return nil
}

func (f *memFast) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	delete(f.entries, id)
	return nil
}

func (f *memFast) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok
}

func (f *memFast) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

// memDurable implements DurableStore and StateStore, skipping archived
// items in QueryByLastAccess like the SQLite store does.
type memDurable struct {
	mu      sync.Mutex
	content map[string]models.Content
	states  map[string]models.TierState
	down    bool

	// afterGet runs once, after the next GetContent has read its value.
	afterGet func()
}

func newMemDurable() *memDurable {
	return &memDurable{content: make(map[string]models.Content), states: make(map[string]models.TierState)}
}

func (d *memDurable) GetContent(_ context.Context, id string) (*models.Content, error) {
	d.mu.Lock()
	if d.down {
		d.mu.Unlock()
		return nil, errDown
	}
	c, ok := d.content[id]
	hook := d.afterGet
	d.afterGet = nil
	d.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *memDurable) onNextGet(fn func()) {
	d.mu.Lock()
	d.afterGet = fn
	d.mu.Unlock()
}

func (d *memDurable) PutContent(_ context.Context, c *models.Content) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return errDown
	}
	d.content[c.ID] = *c
	return nil
}

func (d *memDurable) DeleteContent(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return errDown
	}
	delete(d.content, id)
	return nil
}

func (d *memDurable) QueryByLastAccess(_ context.Context, before time.Time, limit int) ([]models.Content, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, errDown
	}
	var out []models.Content
	for id, c := range d.content {
		if st, ok := d.states[id]; ok && st.Tier == models.TierArchival {
			continue
		}
		if c.LastAccessAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessAt.Before(out[j].LastAccessAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *memDurable) GetState(_ context.Context, id string) (*models.TierState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (d *memDurable) PutState(_ context.Context, st models.TierState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[st.ContentID] = st
	return nil
}

func (d *memDurable) DeleteState(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, id)
	return nil
}

func (d *memDurable) CountByTier(_ context.Context) (map[models.Tier]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[models.Tier]int{models.TierFast: 0, models.TierDurable: 0, models.TierArchival: 0}
	for _, st := range d.states {
		out[st.Tier]++
	}
	return out, nil
}

func (d *memDurable) tierOf(id string) models.Tier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[id].Tier
}

type memArchive struct {
	mu    sync.Mutex
	blobs map[string]models.Content
	down  bool
}

func newMemArchive() *memArchive {
	return &memArchive{blobs: make(map[string]models.Content)}
}

func (a *memArchive) Get(_ context.Context, id string) (*models.Content, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.down {
		return nil, errDown
	}
	c, ok := a.blobs[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (a *memArchive) Put(_ context.Context, c *models.Content) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.down {
		return errDown
	}
	a.blobs[c.ID] = *c
	return nil
}

func (a *memArchive) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.down {
		return errDown
	}
	delete(a.blobs, id)
	return nil
}

func (a *memArchive) has(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.blobs[id]
	return ok
}

func sameContent(a, b *models.Content) bool {
	return a.ID == b.ID && a.UserID == b.UserID && bytes.Equal(a.Body, b.Body) &&
		a.Context.Activity == b.Context.Activity && a.Context.Location == b.Context.Location
}
