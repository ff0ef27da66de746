// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Niche    NicheConfig    `mapstructure:"niche"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
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

// CrawlConfig governs fetch behavior and default scan bounds.
type CrawlConfig struct {
	UserAgent       string  `mapstructure:"user_agent"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MaxPagesDefault int     `mapstructure:"max_pages_default"`
	MaxPagesCeiling int     `mapstructure:"max_pages_ceiling"`
	MaxDepthDefault int     `mapstructure:"max_depth_default"`
	SeedURLCeiling  int     `mapstructure:"seed_url_ceiling"`
	PerHostRPS      float64 `mapstructure:"per_host_rps"`
	PerHostBurst    int     `mapstructure:"per_host_burst"`
}

// NicheConfig configures the classifier chain.
type NicheConfig struct {
	AnthropicAPIKey     string  `mapstructure:"anthropic_api_key"`
	Model               string  `mapstructure:"model"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// StreamConfig tunes the SSE progress poller.
type StreamConfig struct {
	IntervalSeconds    int `mapstructure:"interval_seconds"`
	MaxDurationSeconds int `mapstructure:"max_duration_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects where page snapshots go.
type StorageConfig struct {
	// Backend is "none", "local", or "gcs".
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN
// keeps the service on the in-memory store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for scan lifecycle notifications.
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
	v.SetEnvPrefix("SCANNER")
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
	v.SetDefault("crawl.user_agent", "tracklens-scanner/0.1")
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("crawl.max_pages_default", 30)
	v.SetDefault("crawl.max_pages_ceiling", 200)
	v.SetDefault("crawl.max_depth_default", 3)
	v.SetDefault("crawl.seed_url_ceiling", 200)
	v.SetDefault("crawl.per_host_rps", 2.0)
	v.SetDefault("crawl.per_host_burst", 4)
	v.SetDefault("niche.model", "claude-sonnet-4-20250514")
	v.SetDefault("niche.confidence_threshold", 0.6)
	v.SetDefault("stream.interval_seconds", 2)
	v.SetDefault("stream.max_duration_seconds", 900)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Crawl.MaxPagesDefault <= 0 || c.Crawl.MaxPagesDefault > c.Crawl.MaxPagesCeiling {
		return fmt.Errorf("crawl.max_pages_default must be in (0, max_pages_ceiling]")
	}
	if c.Niche.ConfidenceThreshold <= 0 || c.Niche.ConfidenceThreshold > 1 {
		return fmt.Errorf("niche.confidence_threshold must be in (0, 1]")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "none", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be none, local, or gcs")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set for local storage")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for gcs storage")
	}
	return nil
}

// FetchTimeout converts the crawl timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// StreamInterval converts the poll interval into a duration.
func (c Config) StreamInterval() time.Duration {
	return time.Duration(c.Stream.IntervalSeconds) * time.Second
}

// StreamMaxDuration converts the stream lifetime cap into a duration.
func (c Config) StreamMaxDuration() time.Duration {
	return time.Duration(c.Stream.MaxDurationSeconds) * time.Second
}
