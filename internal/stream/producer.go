package stream

import "context"

// Producer is the upstream contract for one live data stream. Samples are
// float64, flat channel-interleaved: sample i of channel c sits at index
// i*channelCount+c. Producers with timestamp timing additionally fill a
// parallel float64 timestamp slice, in seconds from stream start.
//
// Configure is only legal while the producer is stopped. Blocking reads
// honor ctx and return ErrTimeout when it expires, or ErrNotRunning when
// the stream stops mid-wait.
type Producer interface {
	// Constraints returns the hard limits of this producer.
	Constraints() Constraints

	// ActiveChannels returns the currently configured channel names in
	// interleave order.
	ActiveChannels() []string

	// SampleRate returns the configured sample rate in Hz. For timestamp
	// timing it is a hint only.
	SampleRate() float64

	// ChannelBufferSize returns the configured per-channel buffer size in
	// samples. In finite mode this is also the total acquisition length.
	ChannelBufferSize() int

	// StreamingMode returns the configured mode.
	StreamingMode() Mode

	// Running reports whether the stream is acquiring.
	Running() bool

	// AvailableSamples returns the number of samples per channel ready to
	// read.
	AvailableSamples() int

	// Configure applies new stream settings.
	Configure(channels []string, mode Mode, bufferSize int, sampleRate float64) error

	// Start begins acquisition. Idempotent.
	Start() error

	// Stop ends acquisition. Idempotent. Committed data stays readable by
	// non-blocking paths until reconfiguration.
	Stop() error

	// ReadInto blocks until samplesPerChannel samples per channel have
	// been copied into data (and timestamps, when the stream has
	// timestamp timing; pass nil otherwise).
	ReadInto(ctx context.Context, data []float64, samplesPerChannel int, timestamps []float64) error

	// ReadAvailableInto copies all currently available samples, capped by
	// the destination size, and returns the samples per channel read.
	ReadAvailableInto(ctx context.Context, data []float64, timestamps []float64) (int, error)

	// Read allocates and returns samplesPerChannel samples per channel.
	// A negative count reads everything currently available. The
	// timestamp slice is nil unless the stream has timestamp timing.
	Read(ctx context.Context, samplesPerChannel int) (data []float64, timestamps []float64, err error)

	// ReadSingle returns one frame, one value per active channel, plus
	// its timestamp when available.
	ReadSingle(ctx context.Context) (frame []float64, timestamp float64, err error)
}
