// Package sim provides a software-only stream.Producer generating
// deterministic test signals. It is the reference implementation of the
// producer contract and backs package tests and the demo daemon.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/streamlab-io/instream/internal/stream"
	"gonum.org/v1/gonum/stat/distuv"
)

// Shape selects the generated waveform of one channel.
type Shape int

const (
	// ShapeSine generates Offset + Amplitude*sin(2*pi*t/Period) plus
	// Gaussian noise.
	ShapeSine Shape = iota
	// ShapeCounts generates Poisson-distributed counts around a slow
	// sine, mimicking a photon counter.
	ShapeCounts
	// ShapeConstant generates Offset plus Gaussian noise.
	ShapeConstant
	// ShapeRamp generates Offset + Amplitude*sampleIndex. Deterministic,
	// used to verify ordering and loss behavior.
	ShapeRamp
)

// Channel configures one simulated channel.
type Channel struct {
	Name      string
	Unit      string
	Shape     Shape
	Amplitude float64
	Offset    float64
	Period    float64 // seconds, sine/counts modulation
	Noise     float64 // Gaussian sigma, ignored by ShapeCounts/ShapeRamp
}

// Options configures a simulated producer.
type Options struct {
	Channels   []Channel
	Timing     stream.SampleTiming
	SampleRate stream.FloatRange
	BufferSize stream.IntRange
	Seed       uint64
}

// Producer is a simulated stream.Producer.
type Producer struct {
	mu          sync.Mutex
	constraints stream.Constraints
	byName      map[string]Channel

	active     []Channel
	mode       stream.Mode
	bufferSize int
	sampleRate float64

	running   bool
	startedAt time.Time
	consumed  int64

	src rand.Source
}

var _ stream.Producer = (*Producer)(nil)

// New creates a simulated producer. All channels are active initially,
// configured at the constraint defaults.
func New(opts Options) (*Producer, error) {
	if len(opts.Channels) == 0 {
		return nil, fmt.Errorf("%w: at least one channel required", stream.ErrConfiguration)
	}
	if opts.SampleRate.Max <= 0 {
		opts.SampleRate = stream.FloatRange{Min: 1, Max: 1e6, Default: 1000}
	}
	if opts.BufferSize.Max <= 0 {
		opts.BufferSize = stream.IntRange{Min: 2, Max: 1 << 22, Default: 1024}
	}
	units := make(map[string]string, len(opts.Channels))
	byName := make(map[string]Channel, len(opts.Channels))
	for _, ch := range opts.Channels {
		if _, dup := byName[ch.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate channel %q", stream.ErrConfiguration, ch.Name)
		}
		if ch.Period <= 0 {
			ch.Period = 1
		}
		units[ch.Name] = ch.Unit
		byName[ch.Name] = ch
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	p := &Producer{
		constraints: stream.Constraints{
			ChannelUnits: units,
			SampleTiming: opts.Timing,
			Modes:        []stream.Mode{stream.ModeContinuous, stream.ModeFinite},
			SampleRate:   opts.SampleRate,
			BufferSize:   opts.BufferSize,
		},
		byName:     byName,
		active:     append([]Channel(nil), opts.Channels...),
		mode:       stream.ModeContinuous,
		bufferSize: opts.BufferSize.Default,
		sampleRate: opts.SampleRate.Default,
		src:        rand.NewPCG(seed, seed),
	}
	return p, nil
}

// Constraints implements stream.Producer.
func (p *Producer) Constraints() stream.Constraints { return p.constraints }

// ActiveChannels implements stream.Producer.
func (p *Producer) ActiveChannels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.active))
	for i, ch := range p.active {
		names[i] = ch.Name
	}
	return names
}

// SampleRate implements stream.Producer.
func (p *Producer) SampleRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleRate
}

// ChannelBufferSize implements stream.Producer.
func (p *Producer) ChannelBufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferSize
}

// StreamingMode implements stream.Producer.
func (p *Producer) StreamingMode() stream.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Running implements stream.Producer.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Configure implements stream.Producer. Rate and buffer size are clamped
// into the constraint bounds.
func (p *Producer) Configure(channels []string, mode stream.Mode, bufferSize int, sampleRate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("%w: producer is running", stream.ErrConfiguration)
	}
	if !p.constraints.SupportsMode(mode) {
		return fmt.Errorf("%w: unsupported mode %s", stream.ErrConfiguration, mode)
	}
	if len(channels) == 0 {
		return fmt.Errorf("%w: empty channel selection", stream.ErrConfiguration)
	}
	active := make([]Channel, len(channels))
	for i, name := range channels {
		ch, ok := p.byName[name]
		if !ok {
			return fmt.Errorf("%w: unknown channel %q", stream.ErrConfiguration, name)
		}
		active[i] = ch
	}
	p.active = active
	p.mode = mode
	p.bufferSize = p.constraints.BufferSize.Clamp(bufferSize)
	p.sampleRate = p.constraints.SampleRate.Clamp(sampleRate)
	p.consumed = 0
	return nil
}

// Start implements stream.Producer.
func (p *Producer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.startedAt = time.Now()
	p.consumed = 0
	return nil
}

// Stop implements stream.Producer.
func (p *Producer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

// AvailableSamples implements stream.Producer.
func (p *Producer) AvailableSamples() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked()
}

func (p *Producer) availableLocked() int {
	if !p.running {
		return 0
	}
	total := int64(time.Since(p.startedAt).Seconds() * p.sampleRate)
	if p.mode == stream.ModeFinite && total > int64(p.bufferSize) {
		total = int64(p.bufferSize)
	}
	avail := total - p.consumed
	if avail < 0 {
		avail = 0
	}
	if avail > int64(p.bufferSize) {
		avail = int64(p.bufferSize)
	}
	return int(avail)
}

// ReadInto implements stream.Producer.
func (p *Producer) ReadInto(ctx context.Context, data []float64, samplesPerChannel int, timestamps []float64) error {
	p.mu.Lock()
	channelCount := len(p.active)
	p.mu.Unlock()
	if len(data) < samplesPerChannel*channelCount {
		return fmt.Errorf("%w: data buffer too small", stream.ErrConfiguration)
	}
	hasTS := p.constraints.SampleTiming == stream.TimingTimestamp
	if hasTS && len(timestamps) < samplesPerChannel {
		return fmt.Errorf("%w: timestamp buffer too small", stream.ErrConfiguration)
	}
	for {
		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			return stream.ErrNotRunning
		}
		if p.availableLocked() >= samplesPerChannel {
			p.generateLocked(data, samplesPerChannel, timestamps)
			p.mu.Unlock()
			return nil
		}
		interval := time.Duration(float64(time.Second) / p.sampleRate)
		p.mu.Unlock()
		if interval < time.Millisecond {
			interval = time.Millisecond
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", stream.ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

// ReadAvailableInto implements stream.Producer.
func (p *Producer) ReadAvailableInto(ctx context.Context, data []float64, timestamps []float64) (int, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return 0, stream.ErrNotRunning
	}
	channelCount := len(p.active)
	n := p.availableLocked()
	if limit := len(data) / channelCount; n > limit {
		n = limit
	}
	if p.constraints.SampleTiming == stream.TimingTimestamp && n > len(timestamps) {
		n = len(timestamps)
	}
	if n > 0 {
		p.generateLocked(data, n, timestamps)
	}
	p.mu.Unlock()
	return n, nil
}

// Read implements stream.Producer.
func (p *Producer) Read(ctx context.Context, samplesPerChannel int) ([]float64, []float64, error) {
	if samplesPerChannel < 0 {
		samplesPerChannel = p.AvailableSamples()
	}
	channelCount := len(p.ActiveChannels())
	data := make([]float64, samplesPerChannel*channelCount)
	var timestamps []float64
	if p.constraints.SampleTiming == stream.TimingTimestamp {
		timestamps = make([]float64, samplesPerChannel)
	}
	if err := p.ReadInto(ctx, data, samplesPerChannel, timestamps); err != nil {
		return nil, nil, err
	}
	return data, timestamps, nil
}

// ReadSingle implements stream.Producer.
func (p *Producer) ReadSingle(ctx context.Context) ([]float64, float64, error) {
	data, timestamps, err := p.Read(ctx, 1)
	if err != nil {
		return nil, 0, err
	}
	ts := 0.
	if len(timestamps) > 0 {
		ts = timestamps[0]
	}
	return data, ts, nil
}

// generateLocked fills data with n samples per channel starting at the
// current consumed offset. Callers must hold p.mu.
func (p *Producer) generateLocked(data []float64, n int, timestamps []float64) {
	channelCount := len(p.active)
	for i := 0; i < n; i++ {
		idx := p.consumed + int64(i)
		t := float64(idx) / p.sampleRate
		for c, ch := range p.active {
			data[i*channelCount+c] = p.sample(ch, idx, t)
		}
		if p.constraints.SampleTiming == stream.TimingTimestamp && timestamps != nil {
			timestamps[i] = t
		}
	}
	p.consumed += int64(n)
}

func (p *Producer) sample(ch Channel, idx int64, t float64) float64 {
	switch ch.Shape {
	case ShapeCounts:
		lambda := ch.Offset + ch.Amplitude*math.Sin(2*math.Pi*t/ch.Period)
		if lambda < 0.1 {
			lambda = 0.1
		}
		return distuv.Poisson{Lambda: lambda, Src: p.src}.Rand()
	case ShapeConstant:
		return ch.Offset + p.gauss(ch.Noise)
	case ShapeRamp:
		amp := ch.Amplitude
		if amp == 0 {
			amp = 1
		}
		return ch.Offset + amp*float64(idx)
	default: // ShapeSine
		return ch.Offset + ch.Amplitude*math.Sin(2*math.Pi*t/ch.Period) + p.gauss(ch.Noise)
	}
}

func (p *Producer) gauss(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return distuv.Normal{Mu: 0, Sigma: sigma, Src: p.src}.Rand()
}
