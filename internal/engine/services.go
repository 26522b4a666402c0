package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/lazypower/foresight/internal/logging"
)

// periodicService runs fn once at startup and then on every tick until its
// context ends. A failing run is logged and retried on the next tick.
type periodicService struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       func(ctx context.Context) error
	log      zerolog.Logger
}

func (s *periodicService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		s.log.Warn().Msg("no interval configured, scheduler disabled")
		return suture.ErrDoNotRestart
	}
	s.log.Info().Dur("interval", s.interval).Msg("scheduler starting")
	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *periodicService) run(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	if err := s.fn(rctx); err != nil {
		s.log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("scheduled run failed")
		return
	}
	s.log.Debug().Dur("duration", time.Since(start)).Msg("scheduled run complete")
}

func (s *periodicService) String() string {
	return s.name
}

// DetectionService reruns pattern detection for every active user on the
// configured schedule.
func (e *Engine) DetectionService() suture.Service {
	return &periodicService{
		name:     "pattern-detection",
		interval: e.cfg.Schedule.DetectionInterval,
		timeout:  30 * time.Minute,
		log:      logging.WithComponent("pattern-detection"),
		fn: func(ctx context.Context) error {
			_, err := e.RunDetectionAll(ctx)
			return err
		},
	}
}

// SweepService runs the demotion sweep on the configured schedule.
func (e *Engine) SweepService() suture.Service {
	return &periodicService{
		name:     "demotion-sweep",
		interval: e.cfg.Schedule.SweepInterval,
		timeout:  10 * time.Minute,
		log:      logging.WithComponent("demotion-sweep"),
		fn: func(ctx context.Context) error {
			_, err := e.RunDemotionSweep(ctx)
			return err
		},
	}
}

// Supervise adds the engine's background services to sup: the prefetch
// worker pool and both schedulers.
func (e *Engine) Supervise(sup *suture.Supervisor) {
	sup.Add(e.Prefetch)
	sup.Add(e.DetectionService())
	sup.Add(e.SweepService())
}
