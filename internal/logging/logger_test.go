package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core)}, logs
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty", OutputPaths: []string{"stdout"}})
	require.Error(t, err)
}

func TestNewDefaultNeverFails(t *testing.T) {
	log := NewDefault()
	require.NotNil(t, log)
	log.Info("boot")
}

func TestComponentTagsEntries(t *testing.T) {
	log, logs := observed()
	log.Component("broadcast").Info("configured")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "broadcast", entries[0].ContextMap()["component"])
}

func TestWithConsumerTagsEntries(t *testing.T) {
	log, logs := observed()
	log.WithConsumer("3d5a").Debug("consumer registered")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "3d5a", entries[0].ContextMap()["consumer"])
}

func TestWithChannelsTagsEntries(t *testing.T) {
	log, logs := observed()
	log.WithChannels([]string{"apd_counts", "wavelength"}).Info("configured")

	entries := logs.All()
	require.Len(t, entries, 1)
	got, ok := entries[0].ContextMap()["channels"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"apd_counts", "wavelength"}, got)
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		got, err := parseLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
}
