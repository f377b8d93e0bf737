// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AnalysisConfig governs the orchestration pipeline.
type AnalysisConfig struct {
	Workers            int    `mapstructure:"workers"`
	QueueDepth         int    `mapstructure:"queue_depth"`
	MaxParallelEngines int    `mapstructure:"max_parallel_engines"`
	EngineTimeoutSec   int    `mapstructure:"engine_timeout_seconds"`
	JobTimeoutSec      int    `mapstructure:"job_timeout_seconds"`
	MaxRecommendations int    `mapstructure:"max_recommendations"`
	UserAgent          string `mapstructure:"user_agent"`
	RateLimitRPS       int    `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int    `mapstructure:"rate_limit_burst"`
}

// CacheConfig controls outcome caching.
type CacheConfig struct {
	// Provider selects "memory" or "postgres".
	Provider   string `mapstructure:"provider"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// HTTPConfig configures page-fetch client behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the mobile engine's rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// PerformanceConfig holds PageSpeed Insights settings.
type PerformanceConfig struct {
	PageSpeedAPIKey  string `mapstructure:"pagespeed_api_key"`
	PageSpeedTimeout int    `mapstructure:"pagespeed_timeout_seconds"`
}

// StorageConfig sets the report artifact destination.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// in-memory stores.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// PubSubConfig holds metadata for completion event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERCEPTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.queue_depth", 64)
	v.SetDefault("analysis.max_parallel_engines", 4)
	v.SetDefault("analysis.engine_timeout_seconds", 30)
	v.SetDefault("analysis.job_timeout_seconds", 120)
	v.SetDefault("analysis.max_recommendations", 50)
	v.SetDefault("analysis.user_agent", "perception-bot/1.0 (+https://github.com/haybaler/perception)")
	v.SetDefault("analysis.rate_limit_rps", 2)
	v.SetDefault("analysis.rate_limit_burst", 4)
	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("performance.pagespeed_timeout_seconds", 60)
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be > 0")
	}
	if c.Analysis.MaxParallelEngines <= 0 {
		return fmt.Errorf("analysis.max_parallel_engines must be > 0")
	}
	if c.Analysis.EngineTimeoutSec <= 0 {
		return fmt.Errorf("analysis.engine_timeout_seconds must be > 0")
	}
	if c.Analysis.JobTimeoutSec < c.Analysis.EngineTimeoutSec {
		return fmt.Errorf("analysis.job_timeout_seconds must be >= analysis.engine_timeout_seconds")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Cache.Provider {
	case "memory", "postgres":
	default:
		return fmt.Errorf("cache.provider must be memory or postgres")
	}
	if c.Cache.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when cache.provider is postgres")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// EngineTimeout returns the per-engine execution budget.
func (c Config) EngineTimeout() time.Duration {
	return time.Duration(c.Analysis.EngineTimeoutSec) * time.Second
}

// JobTimeout returns the whole-job execution budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Analysis.JobTimeoutSec) * time.Second
}

// CacheTTL returns how long successful outcomes stay cached.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// FetchTimeout returns the page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
