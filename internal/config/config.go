// Package config loads the relay server's runtime parameters from an
// optional config file and PINLINK_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateLimit bounds inbound frames per connection with a token bucket.
type RateLimit struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// Config captures the relay server runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	LogLevel            string        `mapstructure:"log_level"`
	AllowedOrigins      []string      `mapstructure:"allowed_origins"`
	MaxMessageSize      int64         `mapstructure:"max_message_size"`
	RateLimit           RateLimit     `mapstructure:"rate_limit"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

const (
	defaultListenAddress       = ":8080"
	defaultLogLevel            = "info"
	defaultMaxMessageSize      = 4096
	defaultRateLimitBurst      = 10
	defaultRefillInterval      = time.Second
	defaultShutdownGracePeriod = 10 * time.Second
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with PINLINK_ and
// override file values, e.g. PINLINK_LISTEN_ADDRESS=:9000.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PINLINK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("max_message_size", defaultMaxMessageSize)
	v.SetDefault("rate_limit.burst", defaultRateLimitBurst)
	v.SetDefault("rate_limit.refill_interval", defaultRefillInterval.String())
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for key, dst := range map[string]*time.Duration{
		"rate_limit.refill_interval": &cfg.RateLimit.RefillInterval,
		"shutdown_grace_period":      &cfg.ShutdownGracePeriod,
	} {
		dur, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = dur
	}

	// Env vars deliver the origin list as a comma-separated string.
	if len(cfg.AllowedOrigins) == 1 && strings.Contains(cfg.AllowedOrigins[0], ",") {
		cfg.AllowedOrigins = splitAndTrim(cfg.AllowedOrigins[0])
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateLimitBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = defaultShutdownGracePeriod
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
