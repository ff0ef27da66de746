package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawl:
  user_agent: scanner-agent
  timeout_seconds: 45
  max_pages_default: 50
  max_pages_ceiling: 100
  max_depth_default: 5
  per_host_rps: 1.5
niche:
  anthropic_api_key: sk-test
  model: claude-sonnet-4-20250514
  confidence_threshold: 0.7
stream:
  interval_seconds: 3
  max_duration_seconds: 600
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: snaps
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawl.MaxPagesDefault != 50 || cfg.Crawl.UserAgent != "scanner-agent" {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if cfg.Niche.ConfidenceThreshold != 0.7 {
		t.Fatalf("expected niche threshold 0.7, got %f", cfg.Niche.ConfidenceThreshold)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected gcs storage config: %+v", cfg.Storage)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.StreamInterval(); got != 3*time.Second {
		t.Fatalf("expected stream interval 3s, got %v", got)
	}
	if got := cfg.StreamMaxDuration(); got != 10*time.Minute {
		t.Fatalf("expected stream max duration 10m, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawl.MaxPagesDefault != 30 || cfg.Crawl.MaxDepthDefault != 3 {
		t.Fatalf("expected default crawl bounds: %+v", cfg.Crawl)
	}
	if cfg.Niche.ConfidenceThreshold != 0.6 {
		t.Fatalf("expected default threshold 0.6, got %f", cfg.Niche.ConfidenceThreshold)
	}
	if cfg.Storage.Backend != "none" {
		t.Fatalf("expected default storage backend none, got %s", cfg.Storage.Backend)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawl:  CrawlConfig{TimeoutSeconds: 10, MaxPagesDefault: 30, MaxPagesCeiling: 200},
		Niche:  NicheConfig{ConfidenceThreshold: 0.6},
		Storage: StorageConfig{
			Backend: "none",
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Crawl.TimeoutSeconds = 0
				return c
			}(),
			want: "crawl.timeout_seconds",
		},
		{
			name: "default pages above ceiling",
			cfg: func() Config {
				c := base
				c.Crawl.MaxPagesDefault = 500
				return c
			}(),
			want: "crawl.max_pages_default",
		},
		{
			name: "invalid confidence threshold",
			cfg: func() Config {
				c := base
				c.Niche.ConfidenceThreshold = 1.5
				return c
			}(),
			want: "niche.confidence_threshold",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "unknown storage backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "local storage missing dir",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "local"
				return c
			}(),
			want: "storage.local_dir",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
