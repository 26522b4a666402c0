// Package metrics holds the prometheus instruments for the engine. Every
// non-fatal condition (skipped pattern periods, degraded tiers, dropped
// prefetch requests) is surfaced here rather than returned to callers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pattern detection
	PatternRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_pattern_runs_total",
			Help: "Pattern detection runs by result",
		},
		[]string{"result"}, // "ok", "error", "no_events"
	)

	PatternInsufficientData = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_pattern_insufficient_data_total",
			Help: "Candidate periods skipped because the observed span was too short",
		},
		[]string{"period"},
	)

	PatternBelowConfidence = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_pattern_below_confidence_total",
			Help: "Candidate periods rejected for confidence under the configured minimum",
		},
		[]string{"period"},
	)

	PatternsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_pattern_emitted_total",
			Help: "Patterns emitted by type",
		},
		[]string{"type"},
	)

	// Tiers
	TierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_tier_hits_total",
			Help: "Reads served by each tier",
		},
		[]string{"tier"},
	)

	TierUnavailable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_tier_unavailable_total",
			Help: "Tier operations that failed or timed out",
		},
		[]string{"tier", "op"},
	)

	TierNotFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foresight_tier_not_found_total",
			Help: "Reads that missed every tier",
		},
	)

	TierStalePromotes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foresight_tier_stale_promotes_total",
			Help: "Fast tier writes dropped because the durable copy changed mid-promote",
		},
	)

	TierTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_tier_transitions_total",
			Help: "Tier placement transitions",
		},
		[]string{"from", "to"},
	)

	TierOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foresight_tier_op_duration_seconds",
			Help:    "Latency of tier store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"tier", "op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foresight_circuit_breaker_state",
			Help: "Breaker state per tier (0=closed, 1=half-open, 2=open)",
		},
		[]string{"tier"},
	)

	SweepDemotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_sweep_demotions_total",
			Help: "Demotion sweep outcomes per item",
		},
		[]string{"result"}, // "archived", "error"
	)

	// Prefetch
	PrefetchDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foresight_prefetch_dropped_total",
			Help: "Prefetch requests dropped because the queue was full",
		},
	)

	PrefetchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_prefetch_jobs_total",
			Help: "Prefetch jobs processed by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	PrefetchPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_prefetch_promotions_total",
			Help: "Speculative promotions by result",
		},
		[]string{"result"},
	)

	PrefetchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "foresight_prefetch_queue_depth",
			Help: "Current number of queued prefetch requests",
		},
	)

	// Scoring
	ScorerSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foresight_scorer_gate_suppressed_total",
			Help: "Candidates removed by the context gate",
		},
	)
)
