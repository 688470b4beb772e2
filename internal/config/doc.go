// Package config provides 12-factor configuration for the streaming
// daemon.
//
// Configuration is loaded from environment variables with sensible
// defaults; an optional YAML profile named by INSTREAM_CONFIG is
// applied first, so deployments can check in a profile and still
// override single values through the environment.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - Stream: default acquisition settings for local producers
//   - Sync: synchronizer merge settings
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - STREAM_SAMPLE_RATE, STREAM_BUFFER_SIZE, STREAM_MAX_POLL_RATE
//   - SYNC_DELAY, SYNC_MIN_SAMPLES, SYNC_ALLOW_OVERWRITE
//   - INSTREAM_CONFIG
package config
