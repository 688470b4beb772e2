package syncstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/streamlab-io/instream/internal/logging"
	"github.com/streamlab-io/instream/internal/metrics"
	"github.com/streamlab-io/instream/internal/ring"
	"github.com/streamlab-io/instream/internal/stream"
)

const (
	// minMergeInterval floors the merge reschedule period.
	minMergeInterval = 10 * time.Millisecond
	// stopPollInterval paces Stop's wait for the merge worker.
	stopPollInterval = 10 * time.Millisecond
	// minInterpolationFloor is the hard lower bound on samples per merge
	// cycle; one point per input would force extrapolation.
	minInterpolationFloor = 2
)

// IgnoreMode records which input, if any, is bypassed because the
// configured channel set is covered entirely by the other.
type IgnoreMode int

const (
	IgnoreNone IgnoreMode = iota
	IgnorePrimary
	IgnoreSecondary
)

// String returns the string representation of the ignore mode.
func (m IgnoreMode) String() string {
	switch m {
	case IgnorePrimary:
		return "primary"
	case IgnoreSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// Options configures a Synchronizer.
type Options struct {
	// AllowOverwrite lets the combined output buffer drop its oldest
	// frames instead of failing the merge cycle when full.
	AllowOverwrite bool
	// MaxPollRate caps the retry frequency of blocking reads, in polls
	// per second. Zero selects a default of 100.
	MaxPollRate float64
	// MinInterpolationSamples is the per-input batch floor for a dual
	// merge cycle. Values below 2 are raised to 2.
	MinInterpolationSamples int
	// Delay is a fixed offset in seconds added to the secondary's
	// timestamps before interpolation.
	Delay float64
	// Logger defaults to a no-op logger.
	Logger *logging.Logger
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Synchronizer merges a primary and a secondary producer into one
// combined stream ordered by the primary's timestamps. It implements
// stream.Producer for its single owner.
type Synchronizer struct {
	primary   stream.Producer
	secondary stream.Producer
	opts      Options
	log       *logging.Logger

	constraints stream.Constraints

	mu               sync.Mutex
	ignore           IgnoreMode
	primaryActive    []string
	secondaryActive  []string
	outputBufferSize int

	data *ring.Buffer[float64]
	ts   *ring.Buffer[float64]

	primaryCount   int64
	secondaryCount int64

	scratchPrimary     []float64
	scratchSecondary   []float64
	scratchPrimaryTS   []float64
	scratchSecondaryTS []float64
	scratchCombined    []float64
	scratchColumn      []float64

	running       atomic.Bool
	stopRequested atomic.Bool
}

var _ stream.Producer = (*Synchronizer)(nil)

// New creates a synchronizer over two producers. Construction fails if
// either input reports random sample timing: without a deterministic or
// timestamped base there is nothing stable to interpolate against.
func New(primary, secondary stream.Producer, opts Options) (*Synchronizer, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.MinInterpolationSamples < minInterpolationFloor {
		opts.MinInterpolationSamples = minInterpolationFloor
	}
	combined, err := combineConstraints(primary.Constraints(), secondary.Constraints())
	if err != nil {
		return nil, err
	}
	s := &Synchronizer{
		primary:     primary,
		secondary:   secondary,
		opts:        opts,
		log:         opts.Logger.Component("syncstream"),
		constraints: combined,
	}
	s.primaryActive = primary.ActiveChannels()
	s.secondaryActive = secondary.ActiveChannels()
	s.outputBufferSize = max(primary.ChannelBufferSize(), secondary.ChannelBufferSize())
	s.createBuffers()
	return s, nil
}

// combineConstraints unions the channel maps and resolves the combined
// timing category.
func combineConstraints(p, sec stream.Constraints) (stream.Constraints, error) {
	if p.SampleTiming == stream.TimingRandom || sec.SampleTiming == stream.TimingRandom {
		return stream.Constraints{}, fmt.Errorf(
			"%w: random sample timing cannot be merged", stream.ErrSynchronization)
	}
	timing := stream.TimingConstant
	if p.SampleTiming == stream.TimingTimestamp || sec.SampleTiming == stream.TimingTimestamp {
		timing = stream.TimingTimestamp
	}
	units := make(map[string]string, len(p.ChannelUnits)+len(sec.ChannelUnits))
	for name, unit := range p.ChannelUnits {
		units[name] = unit
	}
	for name, unit := range sec.ChannelUnits {
		units[name] = unit
	}
	return stream.Constraints{
		ChannelUnits: units,
		SampleTiming: timing,
		Modes:        []stream.Mode{stream.ModeContinuous},
		SampleRate:   p.SampleRate,
		BufferSize:   p.BufferSize,
	}, nil
}

// activeChannelCount returns the combined channel count respecting the
// ignore mode. Callers must hold s.mu.
func (s *Synchronizer) activeChannelCount() int {
	switch s.ignore {
	case IgnorePrimary:
		return len(s.secondaryActive)
	case IgnoreSecondary:
		return len(s.primaryActive)
	default:
		return len(s.primaryActive) + len(s.secondaryActive)
	}
}

// createBuffers allocates the output ring buffers and scratch space for
// the current geometry. Callers must hold s.mu or have exclusive access.
func (s *Synchronizer) createBuffers() {
	total := s.activeChannelCount()
	if total == 0 {
		total = 1
	}
	size := s.outputBufferSize
	if size < 2 {
		size = 2
	}
	s.data = ring.NewInterleaved[float64](total, size, s.opts.AllowOverwrite)
	s.data.SetExpectedRate(s.activeSampleRate())
	if s.constraints.SampleTiming == stream.TimingTimestamp {
		s.ts = ring.New[float64](size, s.opts.AllowOverwrite)
		s.ts.SetExpectedRate(s.activeSampleRate())
	} else {
		s.ts = nil
	}

	primarySize := s.primary.ChannelBufferSize()
	secondarySize := s.secondary.ChannelBufferSize()
	s.scratchPrimary = make([]float64, primarySize*max(len(s.primaryActive), 1))
	s.scratchSecondary = make([]float64, secondarySize*max(len(s.secondaryActive), 1))
	s.scratchPrimaryTS = make([]float64, primarySize)
	s.scratchSecondaryTS = make([]float64, secondarySize)
	s.scratchCombined = make([]float64, primarySize*total)
	s.scratchColumn = make([]float64, secondarySize)
}

// activeSampleRate returns the sample rate of the stream driving the
// output time base.
func (s *Synchronizer) activeSampleRate() float64 {
	if s.ignore == IgnorePrimary {
		return s.secondary.SampleRate()
	}
	return s.primary.SampleRate()
}

// Constraints implements stream.Producer.
func (s *Synchronizer) Constraints() stream.Constraints { return s.constraints }

// IgnoredInput returns which input the current configuration bypasses.
func (s *Synchronizer) IgnoredInput() IgnoreMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignore
}

// ActiveChannels implements stream.Producer. Primary channels come first,
// matching the combined frame layout.
func (s *Synchronizer) ActiveChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.ignore {
	case IgnorePrimary:
		return append([]string(nil), s.secondaryActive...)
	case IgnoreSecondary:
		return append([]string(nil), s.primaryActive...)
	default:
		out := make([]string, 0, len(s.primaryActive)+len(s.secondaryActive))
		out = append(out, s.primaryActive...)
		return append(out, s.secondaryActive...)
	}
}

// SampleRate implements stream.Producer.
func (s *Synchronizer) SampleRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSampleRate()
}

// ChannelBufferSize implements stream.Producer.
func (s *Synchronizer) ChannelBufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Size()
}

// StreamingMode implements stream.Producer.
func (s *Synchronizer) StreamingMode() stream.Mode { return stream.ModeContinuous }

// Running implements stream.Producer.
func (s *Synchronizer) Running() bool { return s.running.Load() }

// AvailableSamples implements stream.Producer.
func (s *Synchronizer) AvailableSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

func (s *Synchronizer) availableLocked() int {
	n := s.data.FillCount()
	if s.ts != nil {
		n = min(n, s.ts.FillCount())
	}
	return n
}

// Configure implements stream.Producer. The requested channels are
// partitioned by input membership; a set covered entirely by one input
// selects ignore mode for the other. Only continuous streaming is
// supported on the combined stream.
func (s *Synchronizer) Configure(channels []string, mode stream.Mode, bufferSize int, sampleRate float64) error {
	if s.running.Load() {
		return fmt.Errorf("%w: cannot configure while stream is running", stream.ErrConfiguration)
	}
	if mode != stream.ModeContinuous {
		return fmt.Errorf("%w: combined stream only supports continuous mode", stream.ErrConfiguration)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pc := s.primary.Constraints()
	sc := s.secondary.Constraints()
	var primaryChannels, secondaryChannels []string
	for _, name := range channels {
		switch {
		case pc.HasChannel(name):
			primaryChannels = append(primaryChannels, name)
		case sc.HasChannel(name):
			secondaryChannels = append(secondaryChannels, name)
		default:
			return fmt.Errorf("%w: channel %q not covered by either input",
				stream.ErrConfiguration, name)
		}
	}
	if len(primaryChannels) == 0 && len(secondaryChannels) == 0 {
		return fmt.Errorf("%w: empty channel selection", stream.ErrConfiguration)
	}

	switch {
	case len(secondaryChannels) == 0:
		s.ignore = IgnoreSecondary
	case len(primaryChannels) == 0:
		s.ignore = IgnorePrimary
	default:
		s.ignore = IgnoreNone
	}

	if len(primaryChannels) > 0 {
		if err := s.primary.Configure(primaryChannels, stream.ModeContinuous, bufferSize, sampleRate); err != nil {
			return err
		}
	}
	if len(secondaryChannels) > 0 {
		// The secondary keeps its own rate and buffer geometry; its
		// samples are mapped onto the primary base at merge time.
		if err := s.secondary.Configure(secondaryChannels, stream.ModeContinuous,
			s.secondary.ChannelBufferSize(), s.secondary.SampleRate()); err != nil {
			return err
		}
	}
	s.primaryActive = append([]string(nil), primaryChannels...)
	s.secondaryActive = append([]string(nil), secondaryChannels...)

	s.outputBufferSize = 0
	if len(primaryChannels) > 0 {
		s.outputBufferSize = s.primary.ChannelBufferSize()
	}
	if len(secondaryChannels) > 0 {
		s.outputBufferSize = max(s.outputBufferSize, s.secondary.ChannelBufferSize())
	}
	s.createBuffers()
	s.log.Info("configured",
		zap.Strings("primary_channels", primaryChannels),
		zap.Strings("secondary_channels", secondaryChannels),
		zap.String("ignored_input", s.ignore.String()),
		zap.Int("output_buffer_size", s.outputBufferSize))
	return nil
}

// Start implements stream.Producer. Inputs are started per ignore mode,
// per-input sample counters reset, and the merge worker spawned. The
// output buffers are recreated, so combined data committed before an
// earlier stop is dropped; drain it before restarting. A second Start
// while running is a no-op.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}
	s.createBuffers()
	s.primaryCount = 0
	s.secondaryCount = 0

	if s.ignore != IgnorePrimary && !s.primary.Running() {
		if err := s.primary.Start(); err != nil {
			return err
		}
	}
	if s.ignore != IgnoreSecondary && !s.secondary.Running() {
		if err := s.secondary.Start(); err != nil {
			s.stopInputs()
			return err
		}
	}
	s.stopRequested.Store(false)
	s.running.Store(true)
	go s.mergeLoop()
	s.log.Info("stream started", zap.String("ignored_input", s.ignore.String()))
	return nil
}

// Stop implements stream.Producer. It requests the merge worker to stop
// and polls until the worker has observed the request and released the
// run state, so the stream is fully stopped on return.
func (s *Synchronizer) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.stopRequested.Store(true)
	for s.running.Load() {
		time.Sleep(stopPollInterval)
	}
	s.log.Info("stream stopped")
	return nil
}

// stopInputs stops whichever inputs this configuration started.
func (s *Synchronizer) stopInputs() {
	if s.ignore != IgnorePrimary && s.primary.Running() {
		if err := s.primary.Stop(); err != nil {
			s.log.Warn("primary stop failed", zap.Error(err))
		}
	}
	if s.ignore != IgnoreSecondary && s.secondary.Running() {
		if err := s.secondary.Stop(); err != nil {
			s.log.Warn("secondary stop failed", zap.Error(err))
		}
	}
}

// mergeLoop is the periodic merge worker. It runs one cycle per
// iteration and reschedules at a period tied to the output buffer's
// average fill rate. Any cycle error forces a clean stop of both inputs
// and leaves the synchronizer idle and restartable.
func (s *Synchronizer) mergeLoop() {
	for {
		if s.stopRequested.Load() {
			s.mu.Lock()
			s.stopInputs()
			s.mu.Unlock()
			s.running.Store(false)
			return
		}
		if err := s.mergeCycle(); err != nil {
			s.log.Error("merge cycle failed, stopping stream", zap.Error(err))
			if s.opts.Metrics != nil {
				s.opts.Metrics.MergeErrors.Inc()
			}
			s.mu.Lock()
			s.stopInputs()
			s.mu.Unlock()
			s.running.Store(false)
			return
		}
		interval := minMergeInterval
		if avg := s.data.AverageRate(); avg > 0 {
			if d := time.Duration(float64(time.Second) / avg); d > interval {
				interval = d
			}
		}
		time.Sleep(interval)
	}
}

// mergeCycle runs one merge iteration.
func (s *Synchronizer) mergeCycle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ignore != IgnoreNone {
		return s.passthroughCycle()
	}
	return s.dualCycle()
}

// readTimeout bounds the batch reads of one merge cycle. Both inputs
// reported the batch as available, so reads should return immediately;
// the bound turns a wedged input into a clean forced stop instead of a
// hang.
func readTimeout(samples int, rate float64) time.Duration {
	d := time.Second
	if rate > 0 {
		if expected := time.Duration(2 * float64(samples) / rate * float64(time.Second)); expected > d {
			d = expected
		}
	}
	return d
}

// passthroughCycle forwards the single active input to the output,
// synthesizing timestamps when the input reports none.
func (s *Synchronizer) passthroughCycle() error {
	input := s.primary
	channels := len(s.primaryActive)
	counter := &s.primaryCount
	scratch, scratchTS := s.scratchPrimary, s.scratchPrimaryTS
	if s.ignore == IgnorePrimary {
		input = s.secondary
		channels = len(s.secondaryActive)
		counter = &s.secondaryCount
		scratch, scratchTS = s.scratchSecondary, s.scratchSecondaryTS
	}

	avail := input.AvailableSamples()
	if avail == 0 {
		return nil
	}
	if limit := len(scratch) / channels; avail > limit {
		avail = limit
	}
	hasTS := input.Constraints().SampleTiming == stream.TimingTimestamp
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout(avail, input.SampleRate()))
	defer cancel()
	var tsDst []float64
	if hasTS {
		tsDst = scratchTS[:avail]
	}
	if err := input.ReadInto(ctx, scratch[:avail*channels], avail, tsDst); err != nil {
		return err
	}
	times := synthesizeTimestamps(scratchTS[:avail], hasTS, counter, avail, input.SampleRate())

	if _, err := s.data.Write(scratch[:avail*channels]); err != nil {
		return err
	}
	if s.ts != nil {
		if _, err := s.ts.Write(times); err != nil {
			return err
		}
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.IgnoredSamples.Add(float64(avail))
		s.opts.Metrics.MergeCycles.Inc()
	}
	return nil
}

// dualCycle reads one batch from each input and merges them onto the
// primary time base.
func (s *Synchronizer) dualCycle() error {
	pAvail := s.primary.AvailableSamples()
	sAvail := s.secondary.AvailableSamples()
	// Fewer points would force extrapolation, which is disallowed; wait
	// for the next cycle instead.
	if pAvail < s.opts.MinInterpolationSamples || sAvail < s.opts.MinInterpolationSamples {
		return nil
	}
	pChannels := len(s.primaryActive)
	sChannels := len(s.secondaryActive)
	if limit := len(s.scratchPrimary) / pChannels; pAvail > limit {
		pAvail = limit
	}
	if limit := len(s.scratchSecondary) / sChannels; sAvail > limit {
		sAvail = limit
	}

	pHasTS := s.primary.Constraints().SampleTiming == stream.TimingTimestamp
	sHasTS := s.secondary.Constraints().SampleTiming == stream.TimingTimestamp

	pCtx, cancel := context.WithTimeout(context.Background(), readTimeout(pAvail, s.primary.SampleRate()))
	defer cancel()
	var pDst []float64
	if pHasTS {
		pDst = s.scratchPrimaryTS[:pAvail]
	}
	if err := s.primary.ReadInto(pCtx, s.scratchPrimary[:pAvail*pChannels], pAvail, pDst); err != nil {
		return fmt.Errorf("primary read: %w", err)
	}
	sCtx, cancel2 := context.WithTimeout(context.Background(), readTimeout(sAvail, s.secondary.SampleRate()))
	defer cancel2()
	var sDst []float64
	if sHasTS {
		sDst = s.scratchSecondaryTS[:sAvail]
	}
	if err := s.secondary.ReadInto(sCtx, s.scratchSecondary[:sAvail*sChannels], sAvail, sDst); err != nil {
		return fmt.Errorf("secondary read: %w", err)
	}

	pTimes := synthesizeTimestamps(s.scratchPrimaryTS[:pAvail], pHasTS, &s.primaryCount, pAvail, s.primary.SampleRate())
	sTimes := synthesizeTimestamps(s.scratchSecondaryTS[:sAvail], sHasTS, &s.secondaryCount, sAvail, s.secondary.SampleRate())
	if s.opts.Delay != 0 {
		for i := range sTimes {
			sTimes[i] += s.opts.Delay
		}
	}

	// Interpolate each secondary channel independently onto the primary
	// timestamps, then interleave primary-first into combined frames.
	total := pChannels + sChannels
	combined := s.scratchCombined[:pAvail*total]
	for i := 0; i < pAvail; i++ {
		copy(combined[i*total:i*total+pChannels], s.scratchPrimary[i*pChannels:(i+1)*pChannels])
	}
	for c := 0; c < sChannels; c++ {
		column := s.scratchColumn[:sAvail]
		for i := 0; i < sAvail; i++ {
			column[i] = s.scratchSecondary[i*sChannels+c]
		}
		ci, err := fitChannel(sTimes, column)
		if err != nil {
			return err
		}
		for i := 0; i < pAvail; i++ {
			combined[i*total+pChannels+c] = ci.at(pTimes[i])
		}
	}

	if _, err := s.data.Write(combined); err != nil {
		return err
	}
	if s.ts != nil {
		if _, err := s.ts.Write(pTimes); err != nil {
			return err
		}
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.SamplesMerged.Add(float64(pAvail))
		s.opts.Metrics.MergeCycles.Inc()
	}
	return nil
}

// synthesizeTimestamps returns real timestamps unchanged, or generates
// count/sampleRate stamps for inputs that report none, advancing the
// per-input running counter either way.
func synthesizeTimestamps(real []float64, hasTimestamps bool, counter *int64, n int, sampleRate float64) []float64 {
	if hasTimestamps {
		*counter += int64(n)
		return real[:n]
	}
	out := real[:n]
	for i := 0; i < n; i++ {
		out[i] = float64(*counter+int64(i)) / sampleRate
	}
	*counter += int64(n)
	return out
}

// ReadInto implements stream.Producer. There is exactly one logical
// reader of the combined stream: its owner.
func (s *Synchronizer) ReadInto(ctx context.Context, data []float64, samplesPerChannel int, timestamps []float64) error {
	if !s.running.Load() {
		return stream.ErrNotRunning
	}
	s.mu.Lock()
	dataBuf, tsBuf := s.data, s.ts
	s.mu.Unlock()
	// A timestamped combined stream must drain both rings in lock-step;
	// reading the data ring alone would leave the pair misaligned forever.
	if tsBuf != nil && timestamps == nil {
		return fmt.Errorf("%w: stream carries timestamps, timestamp destination required",
			stream.ErrConfiguration)
	}
	start := time.Now()
	defer func() {
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveRead("syncstream", time.Since(start))
		}
	}()

	channels := dataBuf.Interleave()
	var err error
	if tsBuf != nil {
		reader := ring.NewSyncReader(
			[]*ring.Buffer[float64]{dataBuf, tsBuf}, s.opts.MaxPollRate, s.running.Load)
		err = reader.ReadExact(ctx,
			[][]float64{data[:samplesPerChannel*channels], timestamps[:samplesPerChannel]},
			samplesPerChannel)
	} else {
		reader := ring.NewReader(dataBuf, s.opts.MaxPollRate, s.running.Load)
		err = reader.ReadExact(ctx, data[:samplesPerChannel*channels], samplesPerChannel)
	}
	if err != nil && errors.Is(err, ring.ErrStopped) {
		return fmt.Errorf("%w: stream stopped during read", stream.ErrNotRunning)
	}
	return err
}

// ReadAvailableInto implements stream.Producer.
func (s *Synchronizer) ReadAvailableInto(ctx context.Context, data []float64, timestamps []float64) (int, error) {
	if !s.running.Load() {
		return 0, stream.ErrNotRunning
	}
	s.mu.Lock()
	avail := s.availableLocked()
	channels := s.data.Interleave()
	hasTS := s.ts != nil
	s.mu.Unlock()

	if limit := len(data) / channels; avail > limit {
		avail = limit
	}
	if hasTS && timestamps != nil && avail > len(timestamps) {
		avail = len(timestamps)
	}
	if avail == 0 {
		return 0, nil
	}
	return avail, s.ReadInto(ctx, data, avail, timestamps)
}

// Read implements stream.Producer.
func (s *Synchronizer) Read(ctx context.Context, samplesPerChannel int) ([]float64, []float64, error) {
	if samplesPerChannel < 0 {
		samplesPerChannel = s.AvailableSamples()
	}
	s.mu.Lock()
	channels := s.data.Interleave()
	hasTS := s.ts != nil
	s.mu.Unlock()

	data := make([]float64, samplesPerChannel*channels)
	var timestamps []float64
	if hasTS {
		timestamps = make([]float64, samplesPerChannel)
	}
	if err := s.ReadInto(ctx, data, samplesPerChannel, timestamps); err != nil {
		return nil, nil, err
	}
	return data, timestamps, nil
}

// ReadSingle implements stream.Producer.
func (s *Synchronizer) ReadSingle(ctx context.Context) ([]float64, float64, error) {
	data, timestamps, err := s.Read(ctx, 1)
	if err != nil {
		return nil, 0, err
	}
	ts := 0.
	if len(timestamps) > 0 {
		ts = timestamps[0]
	}
	return data, ts, nil
}
