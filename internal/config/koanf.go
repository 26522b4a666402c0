package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "FORESIGHT_CONFIG"

// EnvPrefix is stripped from environment variables before mapping them to keys.
const EnvPrefix = "FORESIGHT_"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"foresight.yaml",
	"foresight.yml",
	"/etc/foresight/config.yaml",
}

// nestedKeys maps env suffixes whose section has sub-structs. Everything else
// splits on the first underscore: TIER_HOT_THRESHOLD -> tier.hot_threshold.
var nestedKeys = map[string]string{
	"scorer_weights_temporal":     "scorer.weights.temporal",
	"scorer_weights_context":      "scorer.weights.context",
	"scorer_weights_recency":      "scorer.weights.recency",
	"scorer_type_weights_daily":   "scorer.type_weights.daily",
	"scorer_type_weights_weekly":  "scorer.type_weights.weekly",
	"scorer_type_weights_monthly": "scorer.type_weights.monthly",
	"scorer_type_weights_custom":  "scorer.type_weights.custom",
}

// Load layers defaults, an optional YAML file, and FORESIGHT_* environment
// variables, then validates the result.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the
// file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitPeriods(k); err != nil {
		return nil, err
	}
	if raw, ok := k.Get("server.cors_origins").(string); ok {
		var origins []string
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if err := k.Set("server.cors_origins", origins); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	w := c.Scorer.Weights
	if w.Temporal+w.Context+w.Recency <= 0 {
		return fmt.Errorf("scorer weights must not all be zero")
	}
	if c.Fast.Driver == "redis" && c.Fast.RedisAddr == "" {
		return fmt.Errorf("fast.redis_addr is required for the redis driver")
	}
	if c.Archive.Driver == "s3" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required for the s3 driver")
	}
	if need := c.Pattern.MinHistory(); c.Pattern.Retention <= need {
		return fmt.Errorf("pattern.retention %s must exceed %s, %d cycles of the longest candidate period",
			c.Pattern.Retention, need, c.Pattern.MinCycles)
	}
	return nil
}

func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := nestedKeys[key]; ok {
		return mapped
	}
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}

// splitPeriods accepts FORESIGHT_PATTERN_CANDIDATE_PERIODS=24,168 from the env.
func splitPeriods(k *koanf.Koanf) error {
	raw, ok := k.Get("pattern.candidate_periods").(string)
	if !ok {
		return nil
	}
	var periods []int
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("pattern.candidate_periods: %q is not an integer", p)
		}
		periods = append(periods, n)
	}
	return k.Set("pattern.candidate_periods", periods)
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
