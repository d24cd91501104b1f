package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600))
	t.Chdir(dir)

	got, err := FindConfig("")
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", got)
}

func TestLoad_KeepsDefaultsForUnsetFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, "listen:\n  port: 9001\n"))
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Listen.Port)
	assert.Equal(t, "gemini", cfg.Reasoning.Provider)
	assert.Equal(t, "gemini-flash-latest", cfg.Reasoning.Model)
	assert.Equal(t, 5, cfg.Reasoning.MaxToolRounds)
	assert.Equal(t, 10, cfg.Weather.TimeoutSec)
	assert.Equal(t, 5, cfg.Geocoding.TimeoutSec)
	assert.False(t, cfg.Market.LiveFeed())
	assert.False(t, cfg.MQTT.Configured())
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("AGRIAGENT_TEST_KEY", "secret123")
	cfg, err := Load(writeConfig(t, "reasoning:\n  api_key: ${AGRIAGENT_TEST_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret123", cfg.Reasoning.APIKey)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad log level", "log_level: loud\n"},
		{"bad log format", "log_format: xml\n"},
		{"bad provider", "reasoning:\n  provider: carrier-pigeon\n"},
		{"broker without scheme", "mqtt:\n  broker: localhost:1883\n"},
		{"port out of range", "listen:\n  port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("COMMODITIES_API_KEY", "c-key")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "g-key", cfg.Reasoning.APIKey)
	assert.True(t, cfg.Market.LiveFeed())

	cfg = Default()
	cfg.Reasoning.APIKey = "from-file"
	cfg.ApplyEnv()
	assert.Equal(t, "from-file", cfg.Reasoning.APIKey, "file value wins over env")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewLogger_RendersTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "wire payload")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, filepath.Join(home, "data", "usage.db"), ExpandHome("~/data/usage.db"))
	assert.Equal(t, "/var/lib/usage.db", ExpandHome("/var/lib/usage.db"))
	assert.Equal(t, "~other/usage.db", ExpandHome("~other/usage.db"))
	assert.Equal(t, "", ExpandHome(""))
}

func TestLoad_ExpandsUsagePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(writeConfig(t, "usage:\n  db_path: ~/agriagent/usage.db\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "agriagent", "usage.db"), cfg.Usage.DBPath)
}
