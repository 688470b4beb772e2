package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamlab-io/instream/internal/logging"
	"github.com/streamlab-io/instream/internal/metrics"
	"github.com/streamlab-io/instream/internal/ring"
	"github.com/streamlab-io/instream/internal/stream"
)

// minPollInterval floors the poll period so very high sample rates do not
// degrade into a busy loop.
const minPollInterval = 10 * time.Millisecond

// RunStateFunc is invoked with the new run state on every start/stop
// transition, and once at registration with the current state.
type RunStateFunc func(running bool)

// Options configures a Broadcaster.
type Options struct {
	// MaxPollRate caps the retry frequency of blocking consumer reads,
	// in polls per second. Zero selects a default of 100.
	MaxPollRate float64
	// Logger defaults to a no-op logger.
	Logger *logging.Logger
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// consumer is one registered consumer's private state. The ring buffers
// carry their own locks; the registry lock never protects buffer I/O.
type consumer struct {
	id       uuid.UUID
	data     *ring.Buffer[float64]
	ts       *ring.Buffer[float64]
	runState RunStateFunc
}

// Broadcaster fans one producer's stream out to N independent consumers.
type Broadcaster struct {
	producer stream.Producer
	opts     Options
	log      *logging.Logger

	regMu     sync.RWMutex
	consumers map[uuid.UUID]*consumer

	runMu   sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a broadcaster owning producer. The producer must not be
// shared with other owners.
func New(producer stream.Producer, opts Options) *Broadcaster {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Broadcaster{
		producer:  producer,
		opts:      opts,
		log:       opts.Logger.Component("broadcast"),
		consumers: make(map[uuid.UUID]*consumer),
	}
}

func (b *Broadcaster) hasTimestamps() bool {
	return b.producer.Constraints().SampleTiming == stream.TimingTimestamp
}

// allocateBuffers sizes a consumer's buffers to the producer's current
// geometry, discarding any previous contents.
func (b *Broadcaster) allocateBuffers(c *consumer) {
	channels := len(b.producer.ActiveChannels())
	size := b.producer.ChannelBufferSize()
	c.data = ring.NewInterleaved[float64](channels, size, true)
	c.data.SetExpectedRate(b.producer.SampleRate())
	if b.hasTimestamps() {
		c.ts = ring.New[float64](size, true)
		c.ts.SetExpectedRate(b.producer.SampleRate())
	} else {
		c.ts = nil
	}
}

// RegisterConsumer attaches a consumer and allocates its private buffers.
// The run-state callback, if any, is invoked immediately with the current
// state.
func (b *Broadcaster) RegisterConsumer(id uuid.UUID, runState RunStateFunc) error {
	b.regMu.Lock()
	if _, exists := b.consumers[id]; exists {
		b.regMu.Unlock()
		return fmt.Errorf("%w: consumer %s already registered", stream.ErrConfiguration, id)
	}
	c := &consumer{id: id, runState: runState}
	b.allocateBuffers(c)
	b.consumers[id] = c
	count := len(b.consumers)
	b.regMu.Unlock()

	if b.opts.Metrics != nil {
		b.opts.Metrics.ConsumersActive.Set(float64(count))
	}
	b.log.WithConsumer(id.String()).Debug("consumer registered")
	if runState != nil {
		runState(b.running.Load())
	}
	return nil
}

// UnregisterConsumer detaches a consumer and drops its buffers. Other
// consumers are unaffected.
func (b *Broadcaster) UnregisterConsumer(id uuid.UUID) {
	b.regMu.Lock()
	delete(b.consumers, id)
	count := len(b.consumers)
	b.regMu.Unlock()

	if b.opts.Metrics != nil {
		b.opts.Metrics.ConsumersActive.Set(float64(count))
	}
	b.log.WithConsumer(id.String()).Debug("consumer unregistered")
}

// Configure forwards new settings to the producer and reallocates every
// registered consumer's buffers to the new geometry. Fails while the
// stream runs.
func (b *Broadcaster) Configure(channels []string, mode stream.Mode, bufferSize int, sampleRate float64) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running.Load() || b.producer.Running() {
		return fmt.Errorf("%w: cannot configure while stream is running", stream.ErrConfiguration)
	}
	if err := b.producer.Configure(channels, mode, bufferSize, sampleRate); err != nil {
		return err
	}
	b.regMu.Lock()
	for _, c := range b.consumers {
		b.allocateBuffers(c)
	}
	b.regMu.Unlock()
	b.log.WithChannels(channels).Info("configured",
		zap.Int("buffer_size", bufferSize),
		zap.Float64("sample_rate", sampleRate))
	return nil
}

// Start starts the producer if idle and spawns the poll worker. Calling
// Start on a running broadcaster is a no-op; a second worker is never
// spawned.
func (b *Broadcaster) Start() error {
	b.runMu.Lock()
	if b.running.Load() {
		b.runMu.Unlock()
		return nil
	}
	if !b.producer.Running() {
		if err := b.producer.Start(); err != nil {
			b.runMu.Unlock()
			return err
		}
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.running.Store(true)
	go b.pollLoop(b.stopCh, b.doneCh)
	b.runMu.Unlock()

	// Callbacks run outside runMu so they may call back into
	// Start/Stop/Configure.
	b.notifyRunState(true)
	b.log.Info("stream started")
	return nil
}

// Stop signals the poll worker, blocks until it has exited, then stops
// the producer. Idempotent.
func (b *Broadcaster) Stop() error {
	b.runMu.Lock()
	if !b.running.Load() {
		b.runMu.Unlock()
		return nil
	}
	close(b.stopCh)
	<-b.doneCh
	b.running.Store(false)
	err := b.producer.Stop()
	b.runMu.Unlock()

	b.notifyRunState(false)
	b.log.Info("stream stopped")
	return err
}

// notifyRunState invokes every registered run-state callback outside the
// registry lock.
func (b *Broadcaster) notifyRunState(running bool) {
	b.regMu.RLock()
	callbacks := make([]RunStateFunc, 0, len(b.consumers))
	for _, c := range b.consumers {
		if c.runState != nil {
			callbacks = append(callbacks, c.runState)
		}
	}
	b.regMu.RUnlock()
	for _, cb := range callbacks {
		cb(running)
	}
}

// pollLoop is the single background worker pulling batches from the
// producer and distributing them to consumer buffers.
func (b *Broadcaster) pollLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	sampleRate := b.producer.SampleRate()
	interval := minPollInterval
	if sampleRate > 0 {
		if d := time.Duration(float64(time.Second) / sampleRate); d > interval {
			interval = d
		}
	}
	channels := len(b.producer.ActiveChannels())
	bufferSize := b.producer.ChannelBufferSize()
	scratch := make([]float64, channels*bufferSize)
	var scratchTS []float64
	if b.hasTimestamps() {
		scratchTS = make([]float64, bufferSize)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
		n, err := b.producer.ReadAvailableInto(context.Background(), scratch, scratchTS)
		if err != nil {
			// The producer died underneath us; force a clean stop
			// instead of hanging consumers forever.
			b.log.Error("poll failed, stopping stream", zap.Error(err))
			b.running.Store(false)
			_ = b.producer.Stop()
			b.notifyRunState(false)
			return
		}
		if n == 0 {
			continue
		}
		b.distribute(scratch[:n*channels], scratchTS, n)
		if b.opts.Metrics != nil {
			b.opts.Metrics.PollCycles.Inc()
		}
	}
}

// distribute copies one batch into every consumer buffer.
func (b *Broadcaster) distribute(data []float64, timestamps []float64, n int) {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	for _, c := range b.consumers {
		overflowed, err := c.data.Write(data)
		if err == nil && c.ts != nil && timestamps != nil {
			var tsOverflow bool
			tsOverflow, err = c.ts.Write(timestamps[:n])
			overflowed = overflowed || tsOverflow
		}
		if err != nil {
			b.log.WithConsumer(c.id.String()).Warn("consumer buffer write failed",
				zap.Error(err))
			continue
		}
		if b.opts.Metrics != nil {
			b.opts.Metrics.SamplesDistributed.WithLabelValues(c.id.String()).Add(float64(n))
			if overflowed {
				b.opts.Metrics.BufferOverflows.WithLabelValues(c.id.String()).Inc()
			}
		}
	}
}

func (b *Broadcaster) lookup(id uuid.UUID) (*consumer, error) {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	c, ok := b.consumers[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown consumer %s", stream.ErrConfiguration, id)
	}
	return c, nil
}

// Running reports whether the poll worker is active.
func (b *Broadcaster) Running() bool {
	return b.running.Load()
}

// ConsumerCount returns the number of registered consumers.
func (b *Broadcaster) ConsumerCount() int {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	return len(b.consumers)
}

// AvailableSamples returns the samples per channel buffered for one
// consumer. Fails with ErrNotRunning while the stream is stopped.
func (b *Broadcaster) AvailableSamples(id uuid.UUID) (int, error) {
	c, err := b.lookup(id)
	if err != nil {
		return 0, err
	}
	if !b.running.Load() {
		return 0, stream.ErrNotRunning
	}
	n := c.data.FillCount()
	if c.ts != nil {
		n = min(n, c.ts.FillCount())
	}
	return n, nil
}

// ReadInto blocks until samplesPerChannel samples per channel have been
// copied into data (and timestamps, for timestamp-timed streams) from the
// consumer's buffer. Fails with ErrNotRunning immediately when stopped or
// when the stream stops mid-wait, and ErrTimeout when ctx expires.
func (b *Broadcaster) ReadInto(ctx context.Context, id uuid.UUID, data []float64, samplesPerChannel int, timestamps []float64) error {
	c, err := b.lookup(id)
	if err != nil {
		return err
	}
	if !b.running.Load() {
		return stream.ErrNotRunning
	}
	// A timestamped stream must drain both rings in lock-step; reading
	// the data ring alone would leave the pair misaligned forever.
	if c.ts != nil && timestamps == nil {
		return fmt.Errorf("%w: stream carries timestamps, timestamp destination required",
			stream.ErrConfiguration)
	}
	start := time.Now()
	defer func() {
		if b.opts.Metrics != nil {
			b.opts.Metrics.ObserveRead("broadcast", time.Since(start))
		}
	}()

	channels := c.data.Interleave()
	if c.ts != nil {
		reader := ring.NewSyncReader(
			[]*ring.Buffer[float64]{c.data, c.ts}, b.opts.MaxPollRate, b.running.Load)
		err = reader.ReadExact(ctx,
			[][]float64{data[:samplesPerChannel*channels], timestamps[:samplesPerChannel]},
			samplesPerChannel)
	} else {
		reader := ring.NewReader(c.data, b.opts.MaxPollRate, b.running.Load)
		err = reader.ReadExact(ctx, data[:samplesPerChannel*channels], samplesPerChannel)
	}
	return mapReaderErr(err)
}

// ReadAvailableInto copies all currently buffered samples for the
// consumer, capped by the destination size, and returns the samples per
// channel read.
func (b *Broadcaster) ReadAvailableInto(ctx context.Context, id uuid.UUID, data []float64, timestamps []float64) (int, error) {
	c, err := b.lookup(id)
	if err != nil {
		return 0, err
	}
	avail, err := b.AvailableSamples(id)
	if err != nil {
		return 0, err
	}
	channels := c.data.Interleave()
	if limit := len(data) / channels; avail > limit {
		avail = limit
	}
	if c.ts != nil && timestamps != nil && avail > len(timestamps) {
		avail = len(timestamps)
	}
	if avail == 0 {
		return 0, nil
	}
	return avail, b.ReadInto(ctx, id, data, avail, timestamps)
}

// Read allocates and returns samplesPerChannel samples per channel for
// the consumer. A negative count reads everything currently available.
func (b *Broadcaster) Read(ctx context.Context, id uuid.UUID, samplesPerChannel int) ([]float64, []float64, error) {
	c, err := b.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	if samplesPerChannel < 0 {
		if samplesPerChannel, err = b.AvailableSamples(id); err != nil {
			return nil, nil, err
		}
	}
	channels := c.data.Interleave()
	data := make([]float64, samplesPerChannel*channels)
	var timestamps []float64
	if c.ts != nil {
		timestamps = make([]float64, samplesPerChannel)
	}
	if err := b.ReadInto(ctx, id, data, samplesPerChannel, timestamps); err != nil {
		return nil, nil, err
	}
	return data, timestamps, nil
}

// ReadSingle returns one frame for the consumer plus its timestamp when
// the stream carries timestamps.
func (b *Broadcaster) ReadSingle(ctx context.Context, id uuid.UUID) ([]float64, float64, error) {
	data, timestamps, err := b.Read(ctx, id, 1)
	if err != nil {
		return nil, 0, err
	}
	ts := 0.
	if len(timestamps) > 0 {
		ts = timestamps[0]
	}
	return data, ts, nil
}

// mapReaderErr translates ring reader sentinels into the stream taxonomy.
func mapReaderErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ring.ErrStopped) {
		return fmt.Errorf("%w: stream stopped during read", stream.ErrNotRunning)
	}
	return err
}
