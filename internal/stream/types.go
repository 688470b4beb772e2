package stream

// SampleTiming describes how samples of a stream relate to wall time.
type SampleTiming int

const (
	TimingInvalid SampleTiming = iota - 1
	TimingConstant
	TimingTimestamp
	TimingRandom
)

// String returns the string representation of the timing category.
func (t SampleTiming) String() string {
	switch t {
	case TimingConstant:
		return "constant"
	case TimingTimestamp:
		return "timestamp"
	case TimingRandom:
		return "random"
	default:
		return "invalid"
	}
}

// Mode selects between open-ended and fixed-length acquisition.
type Mode int

const (
	ModeInvalid Mode = iota - 1
	ModeContinuous
	ModeFinite
)

// String returns the string representation of the streaming mode.
func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeFinite:
		return "finite"
	default:
		return "invalid"
	}
}

// FloatRange bounds a float64 setting.
type FloatRange struct {
	Min     float64
	Max     float64
	Default float64
}

// Clamp forces v into the range.
func (r FloatRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies inside the range.
func (r FloatRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// IntRange bounds an integer setting.
type IntRange struct {
	Min     int
	Max     int
	Default int
}

// Clamp forces v into the range.
func (r IntRange) Clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies inside the range.
func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Constraints collects the hard limits of a producer. Settings passed to
// Configure must respect them.
type Constraints struct {
	// ChannelUnits maps channel names to physical units.
	ChannelUnits map[string]string
	// SampleTiming is the timing category of the stream.
	SampleTiming SampleTiming
	// Modes lists the supported streaming modes.
	Modes []Mode
	// SampleRate bounds the configurable sample rate in Hz.
	SampleRate FloatRange
	// BufferSize bounds the configurable per-channel buffer size.
	BufferSize IntRange
}

// ChannelNames returns the constraint's channel names in no particular
// order.
func (c Constraints) ChannelNames() []string {
	names := make([]string, 0, len(c.ChannelUnits))
	for name := range c.ChannelUnits {
		names = append(names, name)
	}
	return names
}

// HasChannel reports whether the named channel belongs to this stream.
func (c Constraints) HasChannel(name string) bool {
	_, ok := c.ChannelUnits[name]
	return ok
}

// SupportsMode reports whether the producer accepts the given mode.
func (c Constraints) SupportsMode(mode Mode) bool {
	for _, m := range c.Modes {
		if m == mode {
			return true
		}
	}
	return false
}
