package config

import (
	"fmt"
	"time"
)

// Config holds all foresight configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Fast     FastConfig     `koanf:"fast"`
	Archive  ArchiveConfig  `koanf:"archive"`
	Tier     TierConfig     `koanf:"tier"`
	Pattern  PatternConfig  `koanf:"pattern"`
	Scorer   ScorerConfig   `koanf:"scorer"`
	Prefetch PrefetchConfig `koanf:"prefetch"`
	Schedule ScheduleConfig `koanf:"schedule"`
}

type ServerConfig struct {
	Bind          string   `koanf:"bind" validate:"required"`
	Port          int      `koanf:"port" validate:"min=1,max=65535"`
	RateLimit     int      `koanf:"rate_limit" validate:"min=0"` // requests per minute per IP, 0 disables
	MetricsEnable bool     `koanf:"metrics_enable"`
	CORSOrigins   []string `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"` // resolved at runtime via store.DefaultDBPath() when empty
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// FastConfig selects the ephemeral key-value store backing the Fast tier.
type FastConfig struct {
	Driver        string `koanf:"driver" validate:"oneof=badger redis"`
	BadgerDir     string `koanf:"badger_dir"` // empty runs badger in memory
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`
	KeyPrefix     string `koanf:"key_prefix"`
}

// ArchiveConfig selects the blob store backing the Archival tier.
type ArchiveConfig struct {
	Driver   string `koanf:"driver" validate:"oneof=local s3"`
	LocalDir string `koanf:"local_dir"`
	Bucket   string `koanf:"bucket"`
	Region   string `koanf:"region"`
	Prefix   string `koanf:"prefix"`
}

type TierConfig struct {
	HotThreshold    int           `koanf:"hot_threshold" validate:"min=1"`
	HotWindow       time.Duration `koanf:"hot_window" validate:"gt=0"`
	FastTTL         time.Duration `koanf:"fast_ttl" validate:"gt=0"`
	ColdAfter       time.Duration `koanf:"cold_after" validate:"gt=0"`
	PromoteOnRead   bool          `koanf:"promote_on_read"`
	FastTimeout     time.Duration `koanf:"fast_timeout" validate:"gt=0"`
	DurableTimeout  time.Duration `koanf:"durable_timeout" validate:"gt=0"`
	ArchivalTimeout time.Duration `koanf:"archival_timeout" validate:"gt=0"`
	SweepBatch      int           `koanf:"sweep_batch" validate:"min=1"`
}

type PatternConfig struct {
	MinConfidence    float64       `koanf:"min_confidence" validate:"gte=0,lte=1"`
	PeakCount        int           `koanf:"peak_count" validate:"min=1"`
	CandidatePeriods []int         `koanf:"candidate_periods" validate:"min=1,dive,min=2"`
	MinCycles        int           `koanf:"min_cycles" validate:"min=1"`
	Retention        time.Duration `koanf:"retention" validate:"gt=0"`
}

// MinHistory is the span MinCycles repetitions of the longest candidate
// period cover. Retention must exceed it or that period can never be detected.
func (p PatternConfig) MinHistory() time.Duration {
	longest := 0
	for _, h := range p.CandidatePeriods {
		longest = max(longest, h)
	}
	return time.Duration(p.MinCycles*longest) * time.Hour
}

type ScorerConfig struct {
	Weights            WeightsConfig     `koanf:"weights"`
	TypeWeights        TypeWeightsConfig `koanf:"type_weights"`
	HalfLife           time.Duration     `koanf:"half_life" validate:"gt=0"`
	ContextGate        float64           `koanf:"context_gate" validate:"gte=0,lte=1"`
	PeakToleranceHours int               `koanf:"peak_tolerance_hours" validate:"min=0"`
	CandidateLimit     int               `koanf:"candidate_limit" validate:"min=1"`
}

type WeightsConfig struct {
	Temporal float64 `koanf:"temporal" validate:"gte=0,lte=1"`
	Context  float64 `koanf:"context" validate:"gte=0,lte=1"`
	Recency  float64 `koanf:"recency" validate:"gte=0,lte=1"`
}

type TypeWeightsConfig struct {
	Daily   float64 `koanf:"daily" validate:"gte=0,lte=1"`
	Weekly  float64 `koanf:"weekly" validate:"gte=0,lte=1"`
	Monthly float64 `koanf:"monthly" validate:"gte=0,lte=1"`
	Custom  float64 `koanf:"custom" validate:"gte=0,lte=1"`
}

type PrefetchConfig struct {
	QueueSize     int     `koanf:"queue_size" validate:"min=1"`
	Workers       int     `koanf:"workers" validate:"min=1"`
	TopN          int     `koanf:"top_n" validate:"min=1"`
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gte=0"` // 0 disables pacing
}

type ScheduleConfig struct {
	DetectionInterval time.Duration `koanf:"detection_interval" validate:"gt=0"`
	SweepInterval     time.Duration `koanf:"sweep_interval" validate:"gt=0"`
}

// Default returns a Config with sensible defaults. The numeric tuning values
// are starting points, not measured constants; override them per deployment.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:          "127.0.0.1",
			Port:          37778,
			RateLimit:     600,
			MetricsEnable: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Fast: FastConfig{
			Driver:    "badger",
			RedisAddr: "127.0.0.1:6379",
			KeyPrefix: "foresight:fast:",
		},
		Archive: ArchiveConfig{
			Driver: "local",
			Region: "us-east-1",
			Prefix: "archive/",
		},
		Tier: TierConfig{
			HotThreshold:    10,
			HotWindow:       time.Hour,
			FastTTL:         time.Hour,
			ColdAfter:       7 * 24 * time.Hour,
			PromoteOnRead:   true,
			FastTimeout:     25 * time.Millisecond,
			DurableTimeout:  250 * time.Millisecond,
			ArchivalTimeout: 2 * time.Second,
			SweepBatch:      500,
		},
		Pattern: PatternConfig{
			MinConfidence:    0.3,
			PeakCount:        3,
			CandidatePeriods: []int{24, 168, 720},
			MinCycles:        3,
			Retention:        120 * 24 * time.Hour,
		},
		Scorer: ScorerConfig{
			Weights: WeightsConfig{
				Temporal: 0.4,
				Context:  0.3,
				Recency:  0.3,
			},
			TypeWeights: TypeWeightsConfig{
				Daily:   1.0,
				Weekly:  0.8,
				Monthly: 0.6,
				Custom:  0.5,
			},
			HalfLife:           7 * 24 * time.Hour,
			ContextGate:        0.3,
			PeakToleranceHours: 1,
			CandidateLimit:     500,
		},
		Prefetch: PrefetchConfig{
			QueueSize:     256,
			Workers:       4,
			TopN:          5,
			RatePerSecond: 50,
		},
		Schedule: ScheduleConfig{
			DetectionInterval: 24 * time.Hour,
			SweepInterval:     time.Hour,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
