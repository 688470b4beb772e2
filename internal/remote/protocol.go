package remote

import (
	"errors"
	"fmt"

	"github.com/streamlab-io/instream/internal/stream"
)

// Operation names accepted by the server.
const (
	OpConstraints   = "constraints"
	OpState         = "state"
	OpConfigure     = "configure"
	OpStart         = "start"
	OpStop          = "stop"
	OpRead          = "read"
	OpReadAvailable = "read_available"
	OpPing          = "ping"
)

// Error codes carried in responses. They map one-to-one onto the
// stream sentinel errors so clients can resurface the same taxonomy.
const (
	CodeConfiguration = "configuration"
	CodeNotRunning    = "not_running"
	CodeTimeout       = "timeout"
	CodeBufferFull    = "buffer_full"
	CodeSync          = "sync"
	CodeInternal      = "internal"
)

// Request is one client frame. Exactly one params field matching Op is
// set.
type Request struct {
	ID        uint64           `json:"id"`
	Op        string           `json:"op"`
	Configure *ConfigureParams `json:"configure,omitempty"`
	Read      *ReadParams      `json:"read,omitempty"`
}

// ConfigureParams carries the settings of a configure request.
type ConfigureParams struct {
	Channels   []string `json:"channels"`
	Mode       string   `json:"mode"`
	BufferSize int      `json:"buffer_size"`
	SampleRate float64  `json:"sample_rate"`
}

// ReadParams carries the shape of a read request.
type ReadParams struct {
	SamplesPerChannel int `json:"samples_per_channel"`
	// TimeoutMillis bounds a blocking read on the server side. Zero
	// means the server default.
	TimeoutMillis int64 `json:"timeout_ms,omitempty"`
}

// Response is one server frame, echoing the request ID.
type Response struct {
	ID          uint64              `json:"id"`
	Op          string              `json:"op"`
	Error       *ErrorInfo          `json:"error,omitempty"`
	Constraints *ConstraintsPayload `json:"constraints,omitempty"`
	State       *StatePayload       `json:"state,omitempty"`
	Samples     *SamplesPayload     `json:"samples,omitempty"`
}

// ErrorInfo is the wire form of a failed operation.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConstraintsPayload is the wire form of stream.Constraints.
type ConstraintsPayload struct {
	ChannelUnits map[string]string `json:"channel_units"`
	SampleTiming string            `json:"sample_timing"`
	Modes        []string          `json:"modes"`
	SampleRate   RangePayload      `json:"sample_rate"`
	BufferSize   IntRangePayload   `json:"buffer_size"`
}

// RangePayload is the wire form of stream.FloatRange.
type RangePayload struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

// IntRangePayload is the wire form of stream.IntRange.
type IntRangePayload struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Default int `json:"default"`
}

// StatePayload is a snapshot of the producer's current settings.
type StatePayload struct {
	ActiveChannels    []string `json:"active_channels"`
	SampleRate        float64  `json:"sample_rate"`
	ChannelBufferSize int      `json:"channel_buffer_size"`
	Mode              string   `json:"mode"`
	Running           bool     `json:"running"`
	AvailableSamples  int      `json:"available_samples"`
}

// SamplesPayload carries one batch of interleaved samples.
type SamplesPayload struct {
	SamplesPerChannel int       `json:"samples_per_channel"`
	Data              []float64 `json:"data"`
	Timestamps        []float64 `json:"timestamps,omitempty"`
}

// EncodeConstraints converts stream constraints to their wire form.
func EncodeConstraints(c stream.Constraints) *ConstraintsPayload {
	modes := make([]string, len(c.Modes))
	for i, m := range c.Modes {
		modes[i] = m.String()
	}
	return &ConstraintsPayload{
		ChannelUnits: c.ChannelUnits,
		SampleTiming: c.SampleTiming.String(),
		Modes:        modes,
		SampleRate:   RangePayload{Min: c.SampleRate.Min, Max: c.SampleRate.Max, Default: c.SampleRate.Default},
		BufferSize:   IntRangePayload{Min: c.BufferSize.Min, Max: c.BufferSize.Max, Default: c.BufferSize.Default},
	}
}

// DecodeConstraints converts wire constraints back to stream form.
func DecodeConstraints(p *ConstraintsPayload) stream.Constraints {
	modes := make([]stream.Mode, 0, len(p.Modes))
	for _, m := range p.Modes {
		modes = append(modes, ParseMode(m))
	}
	return stream.Constraints{
		ChannelUnits: p.ChannelUnits,
		SampleTiming: ParseTiming(p.SampleTiming),
		Modes:        modes,
		SampleRate:   stream.FloatRange{Min: p.SampleRate.Min, Max: p.SampleRate.Max, Default: p.SampleRate.Default},
		BufferSize:   stream.IntRange{Min: p.BufferSize.Min, Max: p.BufferSize.Max, Default: p.BufferSize.Default},
	}
}

// ParseTiming maps a wire timing name to its category.
func ParseTiming(s string) stream.SampleTiming {
	switch s {
	case "constant":
		return stream.TimingConstant
	case "timestamp":
		return stream.TimingTimestamp
	case "random":
		return stream.TimingRandom
	default:
		return stream.TimingInvalid
	}
}

// ParseMode maps a wire mode name to its mode.
func ParseMode(s string) stream.Mode {
	switch s {
	case "continuous":
		return stream.ModeContinuous
	case "finite":
		return stream.ModeFinite
	default:
		return stream.ModeInvalid
	}
}

// ErrorCode classifies an error for the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, stream.ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, stream.ErrNotRunning):
		return CodeNotRunning
	case errors.Is(err, stream.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, stream.ErrBufferFull):
		return CodeBufferFull
	case errors.Is(err, stream.ErrSynchronization):
		return CodeSync
	default:
		return CodeInternal
	}
}

// CodeError reconstructs a sentinel-wrapped error from its wire form.
func CodeError(info *ErrorInfo) error {
	var base error
	switch info.Code {
	case CodeConfiguration:
		base = stream.ErrConfiguration
	case CodeNotRunning:
		base = stream.ErrNotRunning
	case CodeTimeout:
		base = stream.ErrTimeout
	case CodeBufferFull:
		base = stream.ErrBufferFull
	case CodeSync:
		base = stream.ErrSynchronization
	default:
		return fmt.Errorf("remote: %s", info.Message)
	}
	return fmt.Errorf("%w: %s", base, info.Message)
}
