// Package tier places content across a fast cache, the durable store, and an
// archival blob store. The durable store is the source of truth; the other
// two tiers are best-effort and may be nil.
package tier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/foresight/internal/logging"
	"github.com/lazypower/foresight/internal/metrics"
	"github.com/lazypower/foresight/internal/models"
)

// Config controls promotion, demotion, and per-tier time budgets.
type Config struct {
	HotThreshold    int64
	HotWindow       time.Duration
	FastTTL         time.Duration
	ColdAfter       time.Duration
	PromoteOnRead   bool
	FastTimeout     time.Duration
	DurableTimeout  time.Duration
	ArchivalTimeout time.Duration
	SweepBatch      int

	// BreakerFailures consecutive errors open a tier's breaker for
	// BreakerCoolDown.
	BreakerFailures uint32
	BreakerCoolDown time.Duration
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		HotThreshold:    10,
		HotWindow:       time.Hour,
		FastTTL:         time.Hour,
		ColdAfter:       7 * 24 * time.Hour,
		PromoteOnRead:   true,
		FastTimeout:     25 * time.Millisecond,
		DurableTimeout:  250 * time.Millisecond,
		ArchivalTimeout: 2 * time.Second,
		SweepBatch:      500,
		BreakerFailures: 5,
		BreakerCoolDown: 30 * time.Second,
	}
}

// Stores bundles the collaborators a Manager needs. Fast and Archive are
// optional.
type Stores struct {
	Fast    FastStore
	Durable DurableStore
	States  StateStore
	Archive ArchivalStore
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithFrequency enables promote-on-read.
func WithFrequency(f FrequencySource) Option {
	return func(m *Manager) { m.freq = f }
}

// Manager owns every tier transition.
type Manager struct {
	fast    FastStore
	durable DurableStore
	states  StateStore
	archive ArchivalStore
	freq    FrequencySource
	cfg     Config
	now     func() time.Time
	log     zerolog.Logger

	fastCB    *breaker
	archiveCB *breaker
}

// NewManager wires a Manager over the given stores.
func NewManager(stores Stores, cfg Config, opts ...Option) (*Manager, error) {
	if stores.Durable == nil || stores.States == nil {
		return nil, errors.New("tier: durable and state stores are required")
	}
	def := DefaultConfig()
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCoolDown <= 0 {
		cfg.BreakerCoolDown = def.BreakerCoolDown
	}

	m := &Manager{
		fast:    stores.Fast,
		durable: stores.Durable,
		states:  stores.States,
		archive: stores.Archive,
		cfg:     cfg,
		now:     time.Now,
		log:     logging.WithComponent("tier"),
	}
	if m.fast != nil {
		m.fastCB = newBreaker(models.TierFast, cfg.BreakerFailures, cfg.BreakerCoolDown)
	}
	if m.archive != nil {
		m.archiveCB = newBreaker(models.TierArchival, cfg.BreakerFailures, cfg.BreakerCoolDown)
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Get returns the item and the tier that served it. Fast failures fall
// through silently; a durable failure is returned as an *UnavailableError;
// a miss everywhere is ErrNotFound. An item found only in the archive is
// copied back into the durable store before it is returned.
func (m *Manager) Get(ctx context.Context, id string) (*models.Content, models.Tier, error) {
	if c := m.fastGet(ctx, id); c != nil {
		metrics.TierHits.WithLabelValues(string(models.TierFast)).Inc()
		return c, models.TierFast, nil
	}

	c, err := m.durableGet(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if c != nil {
		metrics.TierHits.WithLabelValues(string(models.TierDurable)).Inc()
		m.afterDurableHit(ctx, c)
		return c, models.TierDurable, nil
	}

	c = m.archiveGet(ctx, id)
	if c == nil {
		metrics.TierNotFound.Inc()
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	metrics.TierHits.WithLabelValues(string(models.TierArchival)).Inc()
	if err := m.durablePut(ctx, c, "rehydrate"); err != nil {
		// The caller still gets the archived copy.
		m.log.Warn().Err(err).Str("content_id", id).Msg("rehydrate into durable failed")
		return c, models.TierArchival, nil
	}
	m.transition(ctx, id, models.TierDurable)
	return c, models.TierArchival, nil
}

// Store writes c to the durable store synchronously, then places it in
// target on a best-effort basis and returns the tier it actually landed in.
// A failed fast or archival write falls back to durable. Only a durable
// failure is returned.
func (m *Manager) Store(ctx context.Context, c *models.Content, target models.Tier) (models.Tier, error) {
	if c == nil || c.ID == "" {
		return "", errors.New("tier: content id is required")
	}
	if err := m.durablePut(ctx, c, "store"); err != nil {
		return "", err
	}

	switch target {
	case models.TierFast:
		if m.fastSet(ctx, c) {
			return models.TierFast, nil
		}
	case models.TierArchival:
		if m.archivePut(ctx, c) {
			m.transition(ctx, c.ID, models.TierArchival)
			m.fastDelete(ctx, c.ID)
			return models.TierArchival, nil
		}
	}
	// A rewritten item must not be served stale from the cache.
	m.fastDelete(ctx, c.ID)
	m.transition(ctx, c.ID, models.TierDurable)
	return models.TierDurable, nil
}

// Promote copies the authoritative item into the fast tier with a fresh TTL.
// Promoting an item that is already fast overwrites its entry, so repeated
// calls leave a single entry.
func (m *Manager) Promote(ctx context.Context, id string) error {
	if m.fast == nil {
		return unavailable(models.TierFast, "promote", errors.New("no fast store configured"))
	}
	c, err := m.durableGet(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err = m.promoteContent(ctx, c)
	return err
}

// promoteContent writes c to the fast tier, then re-reads the durable copy.
// If a Store rewrote or removed the item while c was in flight, the fast entry
// is dropped and placed reports false; Store's own cache invalidation may
// already have run, so the late write would otherwise outlive it for FastTTL.
func (m *Manager) promoteContent(ctx context.Context, c *models.Content) (placed bool, err error) {
	fctx, cancel := withTimeout(ctx, m.cfg.FastTimeout)
	start := time.Now()
	_, err = call(m.fastCB, func() (struct{}, error) {
		return struct{}{}, m.fast.SetWithTTL(fctx, c, m.cfg.FastTTL)
	})
	cancel()
	observe(models.TierFast, "set", start)
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierFast), "promote").Inc()
		return false, unavailable(models.TierFast, "promote", err)
	}

	cur, err := m.durableGet(ctx, c.ID)
	if err != nil {
		m.fastDelete(ctx, c.ID)
		return false, err
	}
	if cur == nil || !samePayload(cur, c) {
		metrics.TierStalePromotes.Inc()
		m.log.Debug().Str("content_id", c.ID).Msg("durable copy changed during promote, dropping fast entry")
		m.fastDelete(ctx, c.ID)
		return false, nil
	}
	m.transition(ctx, c.ID, models.TierFast)
	return true, nil
}

// Demote archives an item and drops its fast copy. The archive write lands
// before the placement record changes, and the fast copy goes last.
func (m *Manager) Demote(ctx context.Context, id string) error {
	if m.archive == nil {
		return unavailable(models.TierArchival, "demote", errors.New("no archival store configured"))
	}
	c, err := m.durableGet(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	actx, cancel := withTimeout(ctx, m.cfg.ArchivalTimeout)
	defer cancel()
	start := time.Now()
	_, err = call(m.archiveCB, func() (struct{}, error) {
		return struct{}{}, m.archive.Put(actx, c)
	})
	observe(models.TierArchival, "put", start)
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierArchival), "demote").Inc()
		return unavailable(models.TierArchival, "demote", err)
	}

	if err := m.transitionStrict(ctx, id, models.TierArchival); err != nil {
		return err
	}
	m.fastDelete(ctx, id)
	return nil
}

// SweepResult summarises one demotion pass.
type SweepResult struct {
	Scanned  int      `json:"scanned"`
	Demoted  int      `json:"demoted"`
	Failed   int      `json:"failed"`
	Archived []string `json:"archived,omitempty"`
}

// DemotionSweep demotes up to SweepBatch items unread for ColdAfter. Per-item
// failures are counted and the sweep continues; only a failure to list
// candidates is returned.
func (m *Manager) DemotionSweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := m.now().Add(-m.cfg.ColdAfter)

	dctx, cancel := withTimeout(ctx, m.cfg.DurableTimeout)
	start := time.Now()
	cold, err := m.durable.QueryByLastAccess(dctx, cutoff, m.cfg.SweepBatch)
	cancel()
	observe(models.TierDurable, "query", start)
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierDurable), "sweep").Inc()
		return res, unavailable(models.TierDurable, "sweep", err)
	}

	for _, c := range cold {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Scanned++
		if err := m.Demote(ctx, c.ID); err != nil {
			res.Failed++
			metrics.SweepDemotions.WithLabelValues("failed").Inc()
			m.log.Warn().Err(err).Str("content_id", c.ID).Msg("demotion failed")
			continue
		}
		res.Demoted++
		res.Archived = append(res.Archived, c.ID)
		metrics.SweepDemotions.WithLabelValues("demoted").Inc()
	}

	m.log.Info().
		Int("scanned", res.Scanned).
		Int("demoted", res.Demoted).
		Int("failed", res.Failed).
		Msg("demotion sweep complete")
	return res, nil
}

// Remove deletes an item from every tier along with its placement record.
// Cache and archive deletes are best-effort; the durable delete is not.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.fastDelete(ctx, id)
	if m.archive != nil {
		actx, cancel := withTimeout(ctx, m.cfg.ArchivalTimeout)
		_, err := call(m.archiveCB, func() (struct{}, error) {
			return struct{}{}, m.archive.Delete(actx, id)
		})
		cancel()
		if err != nil {
			metrics.TierUnavailable.WithLabelValues(string(models.TierArchival), "delete").Inc()
			m.log.Warn().Err(err).Str("content_id", id).Msg("archive delete failed")
		}
	}

	dctx, cancel := withTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()
	if err := m.durable.DeleteContent(dctx, id); err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierDurable), "delete").Inc()
		return unavailable(models.TierDurable, "delete", err)
	}
	if err := m.states.DeleteState(dctx, id); err != nil {
		return unavailable(models.TierDurable, "delete", err)
	}
	return nil
}

// State returns the placement record for id, or nil if untracked.
func (m *Manager) State(ctx context.Context, id string) (*models.TierState, error) {
	return m.states.GetState(ctx, id)
}

// Counts returns the number of tracked items per tier.
func (m *Manager) Counts(ctx context.Context) (map[models.Tier]int, error) {
	return m.states.CountByTier(ctx)
}

// BreakerStates reports each guarded tier's breaker position.
func (m *Manager) BreakerStates() map[string]string {
	out := make(map[string]string, 2)
	if m.fastCB != nil {
		out[string(models.TierFast)] = m.fastCB.state()
	}
	if m.archiveCB != nil {
		out[string(models.TierArchival)] = m.archiveCB.state()
	}
	return out
}

func (m *Manager) afterDurableHit(ctx context.Context, c *models.Content) {
	if m.cfg.PromoteOnRead && m.fast != nil && m.freq != nil && m.cfg.HotThreshold > 0 {
		if m.freq.Frequency(c.ID, m.cfg.HotWindow) >= m.cfg.HotThreshold {
			placed, err := m.promoteContent(ctx, c)
			if err != nil {
				m.log.Debug().Err(err).Str("content_id", c.ID).Msg("promote on read skipped")
			}
			if placed {
				return
			}
		}
	}
	// A read of an archived or expired-fast item puts it back in durable.
	st, err := m.states.GetState(ctx, c.ID)
	if err != nil {
		m.log.Warn().Err(err).Str("content_id", c.ID).Msg("read tier state")
		return
	}
	if st != nil && st.Tier != models.TierDurable {
		m.transition(ctx, c.ID, models.TierDurable)
	}
}

// transition records a placement change, logging instead of failing.
func (m *Manager) transition(ctx context.Context, id string, to models.Tier) {
	if err := m.transitionStrict(ctx, id, to); err != nil {
		m.log.Warn().Err(err).Str("content_id", id).Str("tier", string(to)).Msg("record tier state")
	}
}

func (m *Manager) transitionStrict(ctx context.Context, id string, to models.Tier) error {
	prev, err := m.states.GetState(ctx, id)
	if err != nil {
		return unavailable(models.TierDurable, "state", err)
	}
	st := models.TierState{ContentID: id, Tier: to, LastTransitionAt: m.now()}
	if m.freq != nil {
		st.AccessFrequency = m.freq.Frequency(id, m.cfg.HotWindow)
	}
	if prev != nil && prev.Tier == to {
		st.LastTransitionAt = prev.LastTransitionAt
	}
	if err := m.states.PutState(ctx, st); err != nil {
		return unavailable(models.TierDurable, "state", err)
	}
	from := "none"
	if prev != nil {
		from = string(prev.Tier)
	}
	if from != string(to) {
		metrics.TierTransitions.WithLabelValues(from, string(to)).Inc()
		m.log.Debug().Str("content_id", id).Str("from", from).Str("to", string(to)).Msg("tier transition")
	}
	return nil
}

func (m *Manager) fastGet(ctx context.Context, id string) *models.Content {
	if m.fast == nil {
		return nil
	}
	fctx, cancel := withTimeout(ctx, m.cfg.FastTimeout)
	defer cancel()
	start := time.Now()
	c, err := call(m.fastCB, func() (*models.Content, error) {
		return m.fast.Get(fctx, id)
	})
	observe(models.TierFast, "get", start)
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierFast), "get").Inc()
		m.log.Debug().Err(err).Str("content_id", id).Msg("fast tier read failed, falling through")
		return nil
	}
	return c
}

func (m *Manager) fastSet(ctx context.Context, c *models.Content) bool {
	if m.fast == nil {
		return false
	}
	placed, err := m.promoteContent(ctx, c)
	if err != nil {
		m.log.Warn().Err(err).Str("content_id", c.ID).Msg("fast tier write failed")
	}
	return placed
}

func (m *Manager) fastDelete(ctx context.Context, id string) {
	if m.fast == nil {
		return
	}
	fctx, cancel := withTimeout(ctx, m.cfg.FastTimeout)
	defer cancel()
	_, err := call(m.fastCB, func() (struct{}, error) {
		return struct{}{}, m.fast.Delete(fctx, id)
	})
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierFast), "delete").Inc()
		m.log.Warn().Err(err).Str("content_id", id).Msg("fast tier delete failed")
	}
}

func (m *Manager) durableGet(ctx context.Context, id string) (*models.Content, error) {
	dctx, cancel := withTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()
	start := time.Now()
	c, err := m.durable.GetContent(dctx, id)
	observe(models.TierDurable, "get", start)
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierDurable), "get").Inc()
		return nil, unavailable(models.TierDurable, "get", err)
	}
	return c, nil
}

func (m *Manager) durablePut(ctx context.Context, c *models.Content, op string) error {
	dctx, cancel := withTimeout(ctx, m.cfg.DurableTimeout)
	defer cancel()
	start := time.Now()
	err := m.durable.PutContent(dctx, c)
	observe(models.TierDurable, "put", start)
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierDurable), op).Inc()
		return unavailable(models.TierDurable, op, err)
	}
	return nil
}

func (m *Manager) archiveGet(ctx context.Context, id string) *models.Content {
	if m.archive == nil {
		return nil
	}
	actx, cancel := withTimeout(ctx, m.cfg.ArchivalTimeout)
	defer cancel()
	start := time.Now()
	c, err := call(m.archiveCB, func() (*models.Content, error) {
		return m.archive.Get(actx, id)
	})
	observe(models.TierArchival, "get", start)
	if err != nil {
		// An unreachable archive reads as a miss; only durable may fail a get.
		metrics.TierUnavailable.WithLabelValues(string(models.TierArchival), "get").Inc()
		m.log.Warn().Err(err).Str("content_id", id).Msg("archival tier read failed")
		return nil
	}
	return c
}

func (m *Manager) archivePut(ctx context.Context, c *models.Content) bool {
	if m.archive == nil {
		return false
	}
	actx, cancel := withTimeout(ctx, m.cfg.ArchivalTimeout)
	defer cancel()
	start := time.Now()
	_, err := call(m.archiveCB, func() (struct{}, error) {
		return struct{}{}, m.archive.Put(actx, c)
	})
	observe(models.TierArchival, "put", start)
	if err != nil {
		metrics.TierUnavailable.WithLabelValues(string(models.TierArchival), "store").Inc()
		m.log.Warn().Err(err).Str("content_id", c.ID).Msg("archival tier write failed")
		return false
	}
	return true
}

// samePayload compares the fields a write can change. Access times move on
// every read and are ignored.
func samePayload(a, b *models.Content) bool {
	return a.UserID == b.UserID &&
		bytes.Equal(a.Body, b.Body) &&
		a.Context.Location == b.Context.Location &&
		a.Context.Activity == b.Context.Activity &&
		slices.Equal(a.Context.People, b.Context.People)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func observe(t models.Tier, op string, start time.Time) {
	metrics.TierOpDuration.WithLabelValues(string(t), op).Observe(time.Since(start).Seconds())
}
