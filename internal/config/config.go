package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LogConfig     `yaml:"logging"`
	Stream  StreamConfig  `yaml:"stream"`
	Sync    SyncConfig    `yaml:"sync"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port"`
	Host string `envconfig:"HOST" yaml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development"`
}

// StreamConfig holds the default acquisition settings applied to local
// producers at startup.
type StreamConfig struct {
	SampleRate  float64 `envconfig:"STREAM_SAMPLE_RATE" yaml:"sample_rate"`
	BufferSize  int     `envconfig:"STREAM_BUFFER_SIZE" yaml:"buffer_size"`
	MaxPollRate float64 `envconfig:"STREAM_MAX_POLL_RATE" yaml:"max_poll_rate"`
}

// SyncConfig holds synchronizer merge settings.
type SyncConfig struct {
	// Delay is the fixed secondary timestamp offset in seconds.
	Delay float64 `envconfig:"SYNC_DELAY" yaml:"delay"`
	// MinSamples is the per-input batch floor for a merge cycle.
	MinSamples int `envconfig:"SYNC_MIN_SAMPLES" yaml:"min_samples"`
	// AllowOverwrite lets the combined output drop old frames when full.
	AllowOverwrite bool `envconfig:"SYNC_ALLOW_OVERWRITE" yaml:"allow_overwrite"`
}

// Load builds configuration in ascending precedence: defaults, then
// the YAML profile named by INSTREAM_CONFIG if set, then environment
// variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("INSTREAM_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config profile: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config profile: %w", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Stream: StreamConfig{
			SampleRate:  1000,
			BufferSize:  4096,
			MaxPollRate: 100,
		},
		Sync: SyncConfig{
			MinSamples: 2,
		},
	}
}
