// Package config loads heirloom settings from defaults, an optional config
// file and HEIRLOOM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cpunion/heirloom/pkg/governor"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// HEIRLOOM_GOVERNOR_HOURLY_LIMIT.
const EnvPrefix = "HEIRLOOM"

type Config struct {
	Model        ModelConfig        `mapstructure:"model"`
	Governor     GovernorConfig     `mapstructure:"governor"`
	Experiment   ExperimentConfig   `mapstructure:"experiment"`
	Relationship RelationshipConfig `mapstructure:"relationship"`
	Extractor    ExtractorConfig    `mapstructure:"extractor"`
	Store        StoreConfig        `mapstructure:"store"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
}

type ModelConfig struct {
	Provider    string  `mapstructure:"provider"` // gemini, adk or offline
	Name        string  `mapstructure:"name"`
	Temperature float32 `mapstructure:"temperature"`
}

type GovernorConfig struct {
	MinDelay    time.Duration `mapstructure:"min_delay"`
	HourlyLimit int           `mapstructure:"hourly_limit"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	JitterMin   float64       `mapstructure:"jitter_min"`
	JitterMax   float64       `mapstructure:"jitter_max"`
	RedisAddr   string        `mapstructure:"redis_addr"` // Shared window when set
	RedisKey    string        `mapstructure:"redis_key"`
}

type ExperimentConfig struct {
	OutputDir     string        `mapstructure:"output_dir"`
	Variant       string        `mapstructure:"variant"`
	SelfInterest  bool          `mapstructure:"self_interest"`
	ImpactMode    string        `mapstructure:"impact_mode"`
	ScenarioPause time.Duration `mapstructure:"scenario_pause"`
	PeriodPause   time.Duration `mapstructure:"period_pause"`
	RosterFile    string        `mapstructure:"roster_file"`
	TimelineFile  string        `mapstructure:"timeline_file"`
	// EventsPerShard caps each JSONL file of the event feed.
	EventsPerShard int `mapstructure:"events_per_shard"`
}

type RelationshipConfig struct {
	BaseDelta       float64 `mapstructure:"base_delta"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`
	BroadcastScale  float64 `mapstructure:"broadcast_scale"`
}

type ExtractorConfig struct {
	Threshold          float64 `mapstructure:"threshold"`
	Window             int     `mapstructure:"window"`
	FallbackConfidence float64 `mapstructure:"fallback_confidence"` // 0 keeps 0.4 for pairs and 0.3 for single agents
	UseModel           bool    `mapstructure:"use_model"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	def := governor.DefaultConfig()

	v.SetDefault("model.provider", "gemini")
	v.SetDefault("model.name", "")
	v.SetDefault("model.temperature", 0.7)

	v.SetDefault("governor.min_delay", def.MinDelay)
	v.SetDefault("governor.hourly_limit", def.HourlyLimit)
	v.SetDefault("governor.max_retries", def.MaxRetries)
	v.SetDefault("governor.base_delay", def.Backoff.Base)
	v.SetDefault("governor.max_delay", def.Backoff.Max)
	v.SetDefault("governor.jitter_min", def.Backoff.JitterMin)
	v.SetDefault("governor.jitter_max", def.Backoff.JitterMax)
	v.SetDefault("governor.redis_addr", "")
	v.SetDefault("governor.redis_key", "heirloom:governor:calls")

	v.SetDefault("experiment.output_dir", "output")
	v.SetDefault("experiment.variant", "base")
	v.SetDefault("experiment.self_interest", false)
	v.SetDefault("experiment.impact_mode", "even")
	v.SetDefault("experiment.scenario_pause", 10*time.Second)
	v.SetDefault("experiment.period_pause", 30*time.Second)
	v.SetDefault("experiment.roster_file", "")
	v.SetDefault("experiment.timeline_file", "")
	v.SetDefault("experiment.events_per_shard", 200)

	v.SetDefault("relationship.base_delta", 0.15)
	v.SetDefault("relationship.confidence_floor", 0.5)
	v.SetDefault("relationship.broadcast_scale", 1.0)

	v.SetDefault("extractor.threshold", 0.5)
	v.SetDefault("extractor.window", 2)
	v.SetDefault("extractor.fallback_confidence", 0.0)
	v.SetDefault("extractor.use_model", true)

	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration into v. An empty file searches the working
// directory for heirloom.yaml, heirloom.toml or heirloom.json; a missing
// file is not an error unless it was named explicitly.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("heirloom")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case "gemini", "adk", "offline":
	default:
		errs = append(errs, fmt.Errorf("model.provider must be gemini, adk or offline, got %q", c.Model.Provider))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature must be in [0, 2], got %v", c.Model.Temperature))
	}

	g := c.Governor
	if g.HourlyLimit <= 0 {
		errs = append(errs, fmt.Errorf("governor.hourly_limit must be positive, got %d", g.HourlyLimit))
	}
	if g.MinDelay < 0 {
		errs = append(errs, fmt.Errorf("governor.min_delay must not be negative, got %v", g.MinDelay))
	}
	if g.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("governor.max_retries must not be negative, got %d", g.MaxRetries))
	}
	if g.BaseDelay <= 0 || g.MaxDelay < g.BaseDelay {
		errs = append(errs, fmt.Errorf("governor delays need 0 < base_delay <= max_delay, got %v and %v", g.BaseDelay, g.MaxDelay))
	}
	if g.JitterMin < 0 || g.JitterMax > 1 || g.JitterMin > g.JitterMax {
		errs = append(errs, fmt.Errorf("governor jitter needs 0 <= jitter_min <= jitter_max <= 1, got %v and %v", g.JitterMin, g.JitterMax))
	}

	e := c.Experiment
	if e.OutputDir == "" {
		errs = append(errs, errors.New("experiment.output_dir must not be empty"))
	}
	if e.Variant != "base" && e.Variant != "altered" {
		errs = append(errs, fmt.Errorf("experiment.variant must be base or altered, got %q", e.Variant))
	}
	if e.ImpactMode != "even" && e.ImpactMode != "contributions" {
		errs = append(errs, fmt.Errorf("experiment.impact_mode must be even or contributions, got %q", e.ImpactMode))
	}
	if e.ScenarioPause < 0 || e.PeriodPause < 0 {
		errs = append(errs, errors.New("experiment pauses must not be negative"))
	}
	if e.EventsPerShard <= 0 {
		errs = append(errs, fmt.Errorf("experiment.events_per_shard must be positive, got %d", e.EventsPerShard))
	}

	r := c.Relationship
	if r.BaseDelta <= 0 || r.BaseDelta > 1 {
		errs = append(errs, fmt.Errorf("relationship.base_delta must be in (0, 1], got %v", r.BaseDelta))
	}
	if r.ConfidenceFloor < 0 || r.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("relationship.confidence_floor must be in [0, 1], got %v", r.ConfidenceFloor))
	}
	if r.BroadcastScale <= 0 || r.BroadcastScale > 1 {
		errs = append(errs, fmt.Errorf("relationship.broadcast_scale must be in (0, 1], got %v", r.BroadcastScale))
	}

	x := c.Extractor
	if x.Threshold < 0 || x.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("extractor.threshold must be in [0, 1), got %v", x.Threshold))
	}
	if x.Window < 0 {
		errs = append(errs, fmt.Errorf("extractor.window must not be negative, got %d", x.Window))
	}
	if x.FallbackConfidence < 0 || x.FallbackConfidence > x.Threshold {
		errs = append(errs, fmt.Errorf("extractor.fallback_confidence must be in [0, threshold], got %v", x.FallbackConfidence))
	}
	return errors.Join(errs...)
}

// Build converts the governor section into a governor.Config.
// The window, clock and logger are left for the caller.
func (g GovernorConfig) Build() governor.Config {
	return governor.Config{
		MinDelay:    g.MinDelay,
		HourlyLimit: g.HourlyLimit,
		WindowSize:  time.Hour,
		MaxRetries:  g.MaxRetries,
		Backoff: governor.Backoff{
			Base:      g.BaseDelay,
			Max:       g.MaxDelay,
			JitterMin: g.JitterMin,
			JitterMax: g.JitterMax,
		},
	}
}
