package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Stream config
	assert.Equal(t, 1000., cfg.Stream.SampleRate)
	assert.Equal(t, 4096, cfg.Stream.BufferSize)
	assert.Equal(t, 100., cfg.Stream.MaxPollRate)

	// Sync config
	assert.Equal(t, 0., cfg.Sync.Delay)
	assert.Equal(t, 2, cfg.Sync.MinSamples)
	assert.False(t, cfg.Sync.AllowOverwrite)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when nothing is set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"HOST":                 "127.0.0.1",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
		"STREAM_SAMPLE_RATE":   "250.5",
		"STREAM_BUFFER_SIZE":   "8192",
		"SYNC_DELAY":           "0.25",
		"SYNC_MIN_SAMPLES":     "4",
		"SYNC_ALLOW_OVERWRITE": "true",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 250.5, cfg.Stream.SampleRate)
	assert.Equal(t, 8192, cfg.Stream.BufferSize)
	assert.Equal(t, 0.25, cfg.Sync.Delay)
	assert.Equal(t, 4, cfg.Sync.MinSamples)
	assert.True(t, cfg.Sync.AllowOverwrite)
}

func TestLoadWithProfile(t *testing.T) {
	profile := `
server:
  port: "9100"
stream:
  sample_rate: 500
  buffer_size: 2048
sync:
  delay: 0.1
`
	path := filepath.Join(t.TempDir(), "instream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))
	t.Setenv("INSTREAM_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 500., cfg.Stream.SampleRate)
	assert.Equal(t, 2048, cfg.Stream.BufferSize)
	assert.Equal(t, 0.1, cfg.Sync.Delay)
	// Untouched values keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 2, cfg.Sync.MinSamples)
}

func TestEnvironmentOverridesProfile(t *testing.T) {
	profile := "server:\n  port: \"9100\"\n"
	path := filepath.Join(t.TempDir(), "instream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))
	t.Setenv("INSTREAM_CONFIG", path)
	t.Setenv("PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9200", cfg.Server.Port)
}

func TestLoadRejectsMissingProfile(t *testing.T) {
	t.Setenv("INSTREAM_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
