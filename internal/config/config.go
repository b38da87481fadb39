// Package config provides runtime configuration for the tollgate CLI and
// the middleware composition root. The policy document itself is parsed by
// the policy package; this config covers the ambient concerns around it:
// logging, audit persistence, and middleware behavior.
package config

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level runtime configuration.
type Config struct {
	// LogLevel controls slog verbosity: debug, info, warn, or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Audit configures where decision audit records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Middleware configures the HTTP middleware adapter.
	Middleware MiddlewareConfig `yaml:"middleware" mapstructure:"middleware"`
}

// AuditConfig configures audit persistence.
type AuditConfig struct {
	// Output selects the sink: "stdout", "file://<absolute-path>", or
	// "sqlite://<absolute-path>".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_sink"`

	// BatchSize is the number of records written per batch.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1,max=10000"`

	// FlushInterval is how often pending records are flushed.
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`

	// ChannelSize is the async buffer size; records are dropped (and
	// counted) when it is full.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`
}

// MiddlewareConfig configures the HTTP middleware adapter.
type MiddlewareConfig struct {
	// TrustForwardedFor uses X-Forwarded-For for the client IP. Only enable
	// behind a trusted proxy.
	TrustForwardedFor bool `yaml:"trust_forwarded_for" mapstructure:"trust_forwarded_for"`

	// CacheSize bounds the engine's list-outcome cache.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// Defaults applied by Load when fields are unset.
const (
	DefaultLogLevel      = "info"
	DefaultAuditOutput   = "stdout"
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultChannelSize   = 1000
	DefaultCacheSize     = 1000
)

// Load reads the configuration from Viper, applies defaults, and validates
// it. InitViper must have been called first. A missing config file is not an
// error; defaults and environment variables apply.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Audit.Output == "" {
		c.Audit.Output = DefaultAuditOutput
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = DefaultBatchSize
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = DefaultFlushInterval
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = DefaultChannelSize
	}
	if c.Middleware.CacheSize == 0 {
		c.Middleware.CacheSize = DefaultCacheSize
	}
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
