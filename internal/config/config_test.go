package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddress != ":8080" {
		t.Errorf("ListenAddress = %q, want :8080", cfg.ListenAddress)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("MaxMessageSize = %d, want 4096", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 10 {
		t.Errorf("RateLimit.Burst = %d, want 10", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit.RefillInterval = %v, want 1s", cfg.RateLimit.RefillInterval)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Errorf("ShutdownGracePeriod = %v, want 10s", cfg.ShutdownGracePeriod)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:8080" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
listen_address: ":9000"
log_level: debug
max_message_size: 1024
rate_limit:
  burst: 3
  refill_interval: 250ms
shutdown_grace_period: 2s
allowed_origins:
  - https://chat.example.com
  - "*"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddress != ":9000" {
		t.Errorf("ListenAddress = %q, want :9000", cfg.ListenAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("MaxMessageSize = %d, want 1024", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 3 {
		t.Errorf("RateLimit.Burst = %d, want 3", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval != 250*time.Millisecond {
		t.Errorf("RateLimit.RefillInterval = %v, want 250ms", cfg.RateLimit.RefillInterval)
	}
	if cfg.ShutdownGracePeriod != 2*time.Second {
		t.Errorf("ShutdownGracePeriod = %v, want 2s", cfg.ShutdownGracePeriod)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v, want 2 entries", cfg.AllowedOrigins)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PINLINK_LISTEN_ADDRESS", ":7777")
	t.Setenv("PINLINK_LOG_LEVEL", "warn")
	t.Setenv("PINLINK_SHUTDOWN_GRACE_PERIOD", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddress != ":7777" {
		t.Errorf("ListenAddress = %q, want :7777", cfg.ListenAddress)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != 5*time.Second {
		t.Errorf("ShutdownGracePeriod = %v, want 5s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("PINLINK_SHUTDOWN_GRACE_PERIOD", "soon")

	if _, err := Load(""); err == nil {
		t.Error("Load() accepted an unparseable duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() accepted a missing config file")
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim("http://a.example, https://b.example ,, ")
	if len(got) != 2 || got[0] != "http://a.example" || got[1] != "https://b.example" {
		t.Errorf("splitAndTrim() = %v", got)
	}
}
