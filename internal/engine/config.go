package engine

import (
	"github.com/lazypower/foresight/internal/anticipate"
	"github.com/lazypower/foresight/internal/config"
	"github.com/lazypower/foresight/internal/models"
	"github.com/lazypower/foresight/internal/pattern"
	"github.com/lazypower/foresight/internal/prefetch"
	"github.com/lazypower/foresight/internal/tier"
)

func tierConfig(cfg *config.Config) tier.Config {
	t := tier.DefaultConfig()
	t.HotThreshold = int64(cfg.Tier.HotThreshold)
	t.HotWindow = cfg.Tier.HotWindow
	t.FastTTL = cfg.Tier.FastTTL
	t.ColdAfter = cfg.Tier.ColdAfter
	t.PromoteOnRead = cfg.Tier.PromoteOnRead
	t.FastTimeout = cfg.Tier.FastTimeout
	t.DurableTimeout = cfg.Tier.DurableTimeout
	t.ArchivalTimeout = cfg.Tier.ArchivalTimeout
	t.SweepBatch = cfg.Tier.SweepBatch
	return t
}

func patternConfig(cfg *config.Config) pattern.Config {
	return pattern.Config{
		MinConfidence:      cfg.Pattern.MinConfidence,
		PeakCount:          cfg.Pattern.PeakCount,
		CandidatePeriods:   cfg.Pattern.CandidatePeriods,
		MinCycles:          cfg.Pattern.MinCycles,
		PeakToleranceHours: cfg.Scorer.PeakToleranceHours,
	}
}

func scorerConfig(cfg *config.Config) anticipate.Config {
	s := cfg.Scorer
	return anticipate.Config{
		Weights: anticipate.Weights{
			Temporal: s.Weights.Temporal,
			Context:  s.Weights.Context,
			Recency:  s.Weights.Recency,
		},
		TypeWeights: map[models.PatternType]float64{
			models.PatternDaily:   s.TypeWeights.Daily,
			models.PatternWeekly:  s.TypeWeights.Weekly,
			models.PatternMonthly: s.TypeWeights.Monthly,
			models.PatternCustom:  s.TypeWeights.Custom,
		},
		HalfLife:           s.HalfLife,
		GateThreshold:      s.ContextGate,
		PeakToleranceHours: s.PeakToleranceHours,
	}
}

func prefetchConfig(cfg *config.Config) prefetch.Config {
	p := prefetch.DefaultConfig()
	p.QueueSize = cfg.Prefetch.QueueSize
	p.Workers = cfg.Prefetch.Workers
	p.TopN = cfg.Prefetch.TopN
	p.RatePerSecond = cfg.Prefetch.RatePerSecond
	return p
}
