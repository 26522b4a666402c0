package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lazypower/foresight/internal/anticipate"
	"github.com/lazypower/foresight/internal/config"
	"github.com/lazypower/foresight/internal/frequency"
	"github.com/lazypower/foresight/internal/logging"
	"github.com/lazypower/foresight/internal/metrics"
	"github.com/lazypower/foresight/internal/models"
	"github.com/lazypower/foresight/internal/pattern"
	"github.com/lazypower/foresight/internal/prefetch"
	"github.com/lazypower/foresight/internal/store"
	"github.com/lazypower/foresight/internal/tier"
)

// ErrInvalidArgument marks a request the engine refuses to act on.
var ErrInvalidArgument = errors.New("invalid argument")

// Forget modes.
const (
	ForgetArchive = "archive"
	ForgetDelete  = "delete"
)

// Engine ties the durable store, tier placement, pattern detection, scoring
// and prefetch together behind one API.
type Engine struct {
	DB       *store.DB
	Tiers    *tier.Manager
	Freq     *frequency.Tracker
	Detector *pattern.Detector
	Scorer   *anticipate.Scorer
	Prefetch *prefetch.Scheduler

	cfg *config.Config
	now func() time.Time
	log zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now in the engine and every component it builds.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine over db. fast and archive may be nil to run without
// those tiers.
func New(db *store.DB, fast tier.FastStore, archive tier.ArchivalStore, cfg *config.Config, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, errors.New("engine: database is required")
	}
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	e := &Engine{
		DB:  db,
		cfg: cfg,
		now: time.Now,
		log: logging.WithComponent("engine"),
	}
	for _, o := range opts {
		o(e)
	}

	e.Freq = frequency.New(cfg.Tier.HotWindow, frequency.WithClock(e.now))

	stores := tier.Stores{Fast: fast, Durable: db, States: db, Archive: archive}
	mgr, err := tier.NewManager(stores, tierConfig(cfg), tier.WithClock(e.now), tier.WithFrequency(e.Freq))
	if err != nil {
		return nil, err
	}
	e.Tiers = mgr

	e.Detector = pattern.New(patternConfig(cfg))
	e.Detector.SetClock(e.now)
	e.Scorer = anticipate.New(scorerConfig(cfg))
	e.Prefetch = prefetch.New(e, mgr, prefetchConfig(cfg))
	return e, nil
}

// Store persists c and places it in target. An empty ID is assigned a UUID.
// The returned copy carries the final ID and timestamps, along with the tier
// the item actually landed in.
func (e *Engine) Store(ctx context.Context, c models.Content, target models.Tier) (*models.Content, models.Tier, error) {
	if c.UserID == "" {
		return nil, "", fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := e.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastAccessAt.IsZero() {
		c.LastAccessAt = now
	}
	placed, err := e.Tiers.Store(ctx, &c, target)
	if err != nil {
		return nil, "", err
	}
	e.log.Debug().Str("content_id", c.ID).Str("target", string(target)).Str("tier", string(placed)).Msg("stored content")
	return &c, placed, nil
}

// Get fetches an item through the tiers and records the read as an access by
// the item's owner in frame.
func (e *Engine) Get(ctx context.Context, id string, frame models.ContextFrame) (*models.Content, models.Tier, error) {
	if id == "" {
		return nil, "", fmt.Errorf("%w: content id is required", ErrInvalidArgument)
	}
	c, served, err := e.Tiers.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	ev := models.AccessEvent{UserID: c.UserID, ContentID: c.ID, Timestamp: e.now(), Context: frame}
	if err := e.recordAccess(ctx, ev); err != nil {
		// The read succeeded; a lost access event only weakens predictions.
		e.log.Warn().Err(err).Str("content_id", id).Msg("record access failed")
	}
	return c, served, nil
}

// RecordAccess appends ev to the event log, bumps the item's frequency, and
// moves its last-access time forward. The item must exist and belong to
// ev.UserID: an unknown id is tier.ErrNotFound, another user's item is
// ErrInvalidArgument.
func (e *Engine) RecordAccess(ctx context.Context, ev models.AccessEvent) error {
	if ev.UserID == "" || ev.ContentID == "" {
		return fmt.Errorf("%w: user_id and content_id are required", ErrInvalidArgument)
	}
	c, err := e.DB.GetContent(ctx, ev.ContentID)
	if err != nil {
		return &tier.UnavailableError{Tier: models.TierDurable, Op: "access", Err: err}
	}
	if c == nil {
		return fmt.Errorf("%w: %s", tier.ErrNotFound, ev.ContentID)
	}
	if c.UserID != ev.UserID {
		return fmt.Errorf("%w: content %s does not belong to user %s", ErrInvalidArgument, ev.ContentID, ev.UserID)
	}
	return e.recordAccess(ctx, ev)
}

func (e *Engine) recordAccess(ctx context.Context, ev models.AccessEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if err := e.DB.AppendEvent(ctx, ev); err != nil {
		return err
	}
	e.Freq.Record(ev.ContentID, ev.Timestamp)
	return e.DB.TouchContent(ctx, ev.ContentID, ev.Timestamp)
}

// Predict ranks the user's content for right now.
func (e *Engine) Predict(ctx context.Context, userID string, frame models.ContextFrame, maxResults int) ([]models.PredictionResult, error) {
	return e.RankAt(ctx, userID, frame, e.now(), maxResults)
}

// RankAt ranks the user's non-archived content as of at. An empty frame
// falls back to the most recent context any of the user's devices reported.
func (e *Engine) RankAt(ctx context.Context, userID string, frame models.ContextFrame, at time.Time, maxResults int) ([]models.PredictionResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	if frame.IsEmpty() {
		latest, err := e.DB.LatestContext(ctx, userID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			frame = *latest
		}
	}

	items, err := e.DB.ListContentByUser(ctx, userID, true, e.cfg.Scorer.CandidateLimit)
	if err != nil {
		return nil, err
	}
	patterns, err := e.DB.PatternsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates := make([]anticipate.Candidate, len(items))
	for i := range items {
		candidates[i] = anticipate.CandidateFromContent(items[i])
	}
	return e.Scorer.Rank(at, frame, candidates, patterns, maxResults), nil
}

// Anticipation is the outcome of Anticipate.
type Anticipation struct {
	At      time.Time                 `json:"at"`
	Results []models.PredictionResult `json:"results"`
	Queued  bool                      `json:"queued"`
}

// Anticipate ranks the user's content as of now+lookAhead and queues a
// prefetch so the top results are warm by then. A full prefetch queue is
// not an error.
func (e *Engine) Anticipate(ctx context.Context, userID string, frame models.ContextFrame, lookAhead time.Duration, maxResults int) (*Anticipation, error) {
	if lookAhead < 0 {
		return nil, fmt.Errorf("%w: look-ahead must not be negative", ErrInvalidArgument)
	}
	at := e.now().Add(lookAhead)
	results, err := e.RankAt(ctx, userID, frame, at, maxResults)
	if err != nil {
		return nil, err
	}
	queued := e.Prefetch.Enqueue(prefetch.Request{UserID: userID, Context: frame, At: at}) == nil
	return &Anticipation{At: at, Results: results, Queued: queued}, nil
}

// Forget archives (mode "archive") or erases (mode "delete") an item.
func (e *Engine) Forget(ctx context.Context, id, mode string) error {
	if id == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalidArgument)
	}
	switch mode {
	case ForgetArchive:
		return e.Tiers.Demote(ctx, id)
	case ForgetDelete:
		e.Freq.Forget(id)
		return e.Tiers.Remove(ctx, id)
	default:
		return fmt.Errorf("%w: unknown forget mode %q", ErrInvalidArgument, mode)
	}
}

// SetContext records the current context of one of the user's devices.
func (e *Engine) SetContext(ctx context.Context, userID, deviceID string, frame models.ContextFrame) error {
	if userID == "" || deviceID == "" {
		return fmt.Errorf("%w: user_id and device_id are required", ErrInvalidArgument)
	}
	return e.DB.SetDeviceContext(ctx, userID, deviceID, frame, e.now())
}

// ClearContext forgets a device's context. It reports whether one was set.
func (e *Engine) ClearContext(ctx context.Context, userID, deviceID string) (bool, error) {
	return e.DB.ClearDeviceContext(ctx, userID, deviceID)
}

// Patterns returns the user's current patterns.
func (e *Engine) Patterns(ctx context.Context, userID string) ([]models.Pattern, error) {
	return e.DB.PatternsForUser(ctx, userID)
}

// RunPatternDetection recomputes one user's patterns from their retained
// history and replaces the stored set wholesale.
func (e *Engine) RunPatternDetection(ctx context.Context, userID string) (pattern.Result, error) {
	if userID == "" {
		return pattern.Result{}, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	since := e.now().Add(-e.cfg.Pattern.Retention)
	events, err := e.DB.EventsForUser(ctx, userID, since)
	if err != nil {
		metrics.PatternRuns.WithLabelValues("error").Inc()
		return pattern.Result{}, err
	}
	previous, err := e.DB.PatternsForUser(ctx, userID)
	if err != nil {
		metrics.PatternRuns.WithLabelValues("error").Inc()
		return pattern.Result{}, err
	}

	res := e.Detector.Detect(userID, events, previous)
	if err := e.DB.ReplacePatterns(ctx, userID, res.Patterns); err != nil {
		metrics.PatternRuns.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.PatternRuns.WithLabelValues("ok").Inc()

	for _, s := range res.Skipped {
		e.log.Debug().
			Str("user_id", userID).
			Int("period_hours", s.PeriodHours).
			Float64("confidence", s.Confidence).
			AnErr("reason", s.Reason).
			Msg("candidate period skipped")
	}
	e.log.Info().
		Str("user_id", userID).
		Int("events", len(events)).
		Int("span_hours", res.SpanHours).
		Int("patterns", len(res.Patterns)).
		Msg("pattern detection complete")
	return res, nil
}

// DetectionSummary reports a detection pass over every active user.
type DetectionSummary struct {
	Users    int   `json:"users"`
	Patterns int   `json:"patterns"`
	Failed   int   `json:"failed"`
	Pruned   int64 `json:"pruned_events"`
}

// RunDetectionAll runs detection for every user with retained events, then
// prunes events older than the retention window. A failing user is logged
// and skipped.
func (e *Engine) RunDetectionAll(ctx context.Context) (DetectionSummary, error) {
	var sum DetectionSummary
	cutoff := e.now().Add(-e.cfg.Pattern.Retention)
	users, err := e.DB.UsersWithEvents(ctx, cutoff)
	if err != nil {
		return sum, err
	}
	for _, u := range users {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		res, err := e.RunPatternDetection(ctx, u)
		if err != nil {
			sum.Failed++
			e.log.Warn().Err(err).Str("user_id", u).Msg("pattern detection failed")
			continue
		}
		sum.Users++
		sum.Patterns += len(res.Patterns)
	}

	pruned, err := e.DB.PruneEvents(ctx, cutoff)
	if err != nil {
		return sum, err
	}
	sum.Pruned = pruned
	return sum, nil
}

// RunDemotionSweep archives cold items and drops expired frequency entries.
func (e *Engine) RunDemotionSweep(ctx context.Context) (tier.SweepResult, error) {
	res, err := e.Tiers.DemotionSweep(ctx)
	if evicted := e.Freq.Sweep(); evicted > 0 {
		e.log.Debug().Int("evicted", evicted).Msg("frequency entries evicted")
	}
	return res, err
}

// Status is a point-in-time summary of the engine.
type Status struct {
	SchemaVersion int               `json:"schema_version"`
	Content       int               `json:"content"`
	Patterns      int               `json:"patterns"`
	Tiers         map[string]int    `json:"tiers"`
	Breakers      map[string]string `json:"breakers"`
	Prefetch      prefetch.Stats    `json:"prefetch"`
}

// Status gathers counts from the store, tiers and prefetch pipeline.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	version, err := e.DB.SchemaVersion()
	if err != nil {
		return nil, err
	}
	content, err := e.DB.CountContent(ctx)
	if err != nil {
		return nil, err
	}
	patterns, err := e.DB.CountPatterns(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := e.Tiers.Counts(ctx)
	if err != nil {
		return nil, err
	}
	tiers := make(map[string]int, len(counts))
	for t, n := range counts {
		tiers[string(t)] = n
	}
	return &Status{
		SchemaVersion: version,
		Content:       content,
		Patterns:      patterns,
		Tiers:         tiers,
		Breakers:      e.Tiers.BreakerStates(),
		Prefetch:      e.Prefetch.Stats(),
	}, nil
}
