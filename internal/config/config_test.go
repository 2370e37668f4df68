package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dispatch.db", cfg.Database)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 64, cfg.MaxCallDepth)
	assert.Equal(t, "deployer", cfg.From)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DISPATCH_DB", "/tmp/world.db")
	t.Setenv("DISPATCH_LOG_LEVEL", "debug")
	t.Setenv("DISPATCH_LOG_FORMAT", "json")
	t.Setenv("DISPATCH_MAX_CALL_DEPTH", "8")
	t.Setenv("DISPATCH_FROM", "alice")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Config{
		Database:     "/tmp/world.db",
		LogLevel:     "debug",
		LogFormat:    "json",
		MaxCallDepth: 8,
		From:         "alice",
	}, cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"depth not an int", "DISPATCH_MAX_CALL_DEPTH", "deep", "parse env:"},
		{"depth zero", "DISPATCH_MAX_CALL_DEPTH", "0", "must be positive"},
		{"bad level", "DISPATCH_LOG_LEVEL", "loud", "invalid log level"},
		{"bad format", "DISPATCH_LOG_FORMAT", "xml", "must be text or json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Config{LogLevel: "warn", LogFormat: "json"}.NewLogger(&buf)

	logger.Info("dropped")
	logger.Warn("kept", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"k":1`)
}
