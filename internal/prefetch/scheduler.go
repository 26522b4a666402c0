// Package prefetch warms the fast tier ahead of demand. Requests go into a
// bounded queue; a fixed pool of workers ranks each user's content and
// promotes the top results.
package prefetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lazypower/foresight/internal/logging"
	"github.com/lazypower/foresight/internal/metrics"
	"github.com/lazypower/foresight/internal/models"
)

// ErrQueueFull is returned by Enqueue when the request was dropped.
var ErrQueueFull = errors.New("prefetch queue full")

// Request asks for a user's likely content to be warmed. A zero At means
// "now" at the time the job runs.
type Request struct {
	UserID  string
	Context models.ContextFrame
	At      time.Time
}

// Ranker produces the ranked predictions for a request.
type Ranker interface {
	RankAt(ctx context.Context, userID string, frame models.ContextFrame, at time.Time, maxResults int) ([]models.PredictionResult, error)
}

// Promoter places an item in the fast tier.
type Promoter interface {
	Promote(ctx context.Context, id string) error
}

// Config sizes the pipeline.
type Config struct {
	QueueSize     int
	Workers       int
	TopN          int
	RatePerSecond float64
	JobTimeout    time.Duration
}

// DefaultConfig returns the stock sizing.
func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		Workers:       4,
		TopN:          5,
		RatePerSecond: 50,
		JobTimeout:    5 * time.Second,
	}
}

// Stats are lifetime counters for one Scheduler.
type Stats struct {
	Enqueued      int64 `json:"enqueued"`
	Dropped       int64 `json:"dropped"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	Promoted      int64 `json:"promoted"`
	PromoteFailed int64 `json:"promote_failed"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
}

// Scheduler is a suture.Service.
type Scheduler struct {
	cfg      Config
	queue    chan Request
	ranker   Ranker
	promoter Promoter
	limiter  *rate.Limiter
	log      zerolog.Logger

	enqueued      atomic.Int64
	dropped       atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64
	promoted      atomic.Int64
	promoteFailed atomic.Int64
}

// New builds a Scheduler. Nothing runs until Serve.
func New(ranker Ranker, promoter Promoter, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Scheduler{
		cfg:      cfg,
		queue:    make(chan Request, cfg.QueueSize),
		ranker:   ranker,
		promoter: promoter,
		limiter:  rate.NewLimiter(limit, cfg.Workers),
		log:      logging.WithComponent("prefetch"),
	}
}

// Enqueue hands req to the workers without blocking. When the queue is full
// the request is dropped, counted, and ErrQueueFull returned.
func (s *Scheduler) Enqueue(req Request) error {
	select {
	case s.queue <- req:
		s.enqueued.Add(1)
		metrics.PrefetchQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		s.dropped.Add(1)
		metrics.PrefetchDropped.Inc()
		s.log.Debug().Str("user_id", req.UserID).Msg("prefetch request dropped")
		return ErrQueueFull
	}
}

// Serve runs the worker pool until ctx is cancelled. Queued requests survive
// a restart.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.log.Info().
		Int("workers", s.cfg.Workers).
		Int("queue_size", s.cfg.QueueSize).
		Msg("prefetch scheduler starting")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	wg.Wait()

	s.log.Info().Msg("prefetch scheduler stopped")
	return ctx.Err()
}

// String names the service for supervisor logs.
func (s *Scheduler) String() string {
	return "prefetch-scheduler"
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			metrics.PrefetchQueueDepth.Set(float64(len(s.queue)))
			s.process(ctx, req)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, req Request) {
	jctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	results, err := s.ranker.RankAt(jctx, req.UserID, req.Context, at, s.cfg.TopN)
	if err != nil {
		s.failed.Add(1)
		metrics.PrefetchJobs.WithLabelValues("failed").Inc()
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("prefetch ranking failed")
		return
	}

	for _, r := range results {
		if err := s.limiter.Wait(jctx); err != nil {
			s.failed.Add(1)
			metrics.PrefetchJobs.WithLabelValues("failed").Inc()
			return
		}
		if err := s.promoter.Promote(jctx, r.ContentID); err != nil {
			s.promoteFailed.Add(1)
			metrics.PrefetchPromotions.WithLabelValues("failed").Inc()
			s.log.Debug().Err(err).Str("content_id", r.ContentID).Msg("prefetch promote failed")
			continue
		}
		s.promoted.Add(1)
		metrics.PrefetchPromotions.WithLabelValues("promoted").Inc()
	}
	s.completed.Add(1)
	metrics.PrefetchJobs.WithLabelValues("completed").Inc()
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Enqueued:      s.enqueued.Load(),
		Dropped:       s.dropped.Load(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		Promoted:      s.promoted.Load(),
		PromoteFailed: s.promoteFailed.Load(),
		QueueDepth:    len(s.queue),
		QueueCapacity: cap(s.queue),
	}
}
