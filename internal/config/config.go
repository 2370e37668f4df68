// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds settings shared by every command. Command-line flags take
// precedence over these values.
type Config struct {
	// Database is the SQLite file holding the persisted world.
	Database string `env:"DISPATCH_DB" envDefault:"dispatch.db"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"DISPATCH_LOG_LEVEL" envDefault:"info"`

	// LogFormat is text or json.
	LogFormat string `env:"DISPATCH_LOG_FORMAT" envDefault:"text"`

	// MaxCallDepth bounds nested calls within one unit of work.
	MaxCallDepth int `env:"DISPATCH_MAX_CALL_DEPTH" envDefault:"64"`

	// From is the default sender for call and view.
	From string `env:"DISPATCH_FROM" envDefault:"deployer"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the environment configuration with defaults applied.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("invalid DISPATCH_LOG_FORMAT %q: must be text or json", cfg.LogFormat)
	}
	if cfg.MaxCallDepth < 1 {
		return Config{}, fmt.Errorf("invalid DISPATCH_MAX_CALL_DEPTH %d: must be positive", cfg.MaxCallDepth)
	}
	return cfg, nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return l, nil
}

// NewLogger builds a structured logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
