package broadcast

import (
	"context"

	"github.com/google/uuid"

	"github.com/streamlab-io/instream/internal/stream"
)

// ConsumerHandle exposes one registered consumer's view of a Broadcaster
// through the stream.Producer contract, so downstream code cannot tell a
// broadcast consumer from a direct hardware stream.
type ConsumerHandle struct {
	b  *Broadcaster
	id uuid.UUID
}

var _ stream.Producer = (*ConsumerHandle)(nil)

// Handle returns a stream.Producer view bound to the given consumer id.
// The consumer must already be registered.
func (b *Broadcaster) Handle(id uuid.UUID) *ConsumerHandle {
	return &ConsumerHandle{b: b, id: id}
}

// ID returns the bound consumer id.
func (h *ConsumerHandle) ID() uuid.UUID { return h.id }

// Constraints implements stream.Producer.
func (h *ConsumerHandle) Constraints() stream.Constraints {
	return h.b.producer.Constraints()
}

// ActiveChannels implements stream.Producer.
func (h *ConsumerHandle) ActiveChannels() []string {
	return h.b.producer.ActiveChannels()
}

// SampleRate implements stream.Producer.
func (h *ConsumerHandle) SampleRate() float64 {
	return h.b.producer.SampleRate()
}

// ChannelBufferSize implements stream.Producer.
func (h *ConsumerHandle) ChannelBufferSize() int {
	return h.b.producer.ChannelBufferSize()
}

// StreamingMode implements stream.Producer.
func (h *ConsumerHandle) StreamingMode() stream.Mode {
	return h.b.producer.StreamingMode()
}

// Running implements stream.Producer.
func (h *ConsumerHandle) Running() bool {
	return h.b.Running()
}

// AvailableSamples implements stream.Producer.
func (h *ConsumerHandle) AvailableSamples() int {
	n, err := h.b.AvailableSamples(h.id)
	if err != nil {
		return 0
	}
	return n
}

// Configure implements stream.Producer.
func (h *ConsumerHandle) Configure(channels []string, mode stream.Mode, bufferSize int, sampleRate float64) error {
	return h.b.Configure(channels, mode, bufferSize, sampleRate)
}

// Start implements stream.Producer.
func (h *ConsumerHandle) Start() error { return h.b.Start() }

// Stop implements stream.Producer.
func (h *ConsumerHandle) Stop() error { return h.b.Stop() }

// ReadInto implements stream.Producer.
func (h *ConsumerHandle) ReadInto(ctx context.Context, data []float64, samplesPerChannel int, timestamps []float64) error {
	return h.b.ReadInto(ctx, h.id, data, samplesPerChannel, timestamps)
}

// ReadAvailableInto implements stream.Producer.
func (h *ConsumerHandle) ReadAvailableInto(ctx context.Context, data []float64, timestamps []float64) (int, error) {
	return h.b.ReadAvailableInto(ctx, h.id, data, timestamps)
}

// Read implements stream.Producer.
func (h *ConsumerHandle) Read(ctx context.Context, samplesPerChannel int) ([]float64, []float64, error) {
	return h.b.Read(ctx, h.id, samplesPerChannel)
}

// ReadSingle implements stream.Producer.
func (h *ConsumerHandle) ReadSingle(ctx context.Context) ([]float64, float64, error) {
	return h.b.ReadSingle(ctx, h.id)
}
