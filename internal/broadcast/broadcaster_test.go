package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlab-io/instream/internal/stream"
	"github.com/streamlab-io/instream/internal/stream/sim"
)

func rampProducer(t *testing.T, timing stream.SampleTiming) *sim.Producer {
	t.Helper()
	p, err := sim.New(sim.Options{
		Channels: []sim.Channel{{Name: "ramp", Unit: "c/s", Shape: sim.ShapeRamp}},
		Timing:   timing,
		Seed:     1,
	})
	require.NoError(t, err)
	require.NoError(t, p.Configure([]string{"ramp"}, stream.ModeContinuous, 4096, 5000))
	return p
}

func TestConsumersSeeIdenticalValues(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})
	idA, idB := uuid.New(), uuid.New()
	require.NoError(t, b.RegisterConsumer(idA, nil))
	require.NoError(t, b.RegisterConsumer(idB, nil))

	require.NoError(t, b.Start())
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([][]float64, 2)
	errs := make([]error, 2)
	wg.Add(2)
	// Consumer A reads one sample at a time, consumer B takes the lot in
	// one call; both must recover the same sequence.
	go func() {
		defer wg.Done()
		out := make([]float64, 0, 100)
		for i := 0; i < 100; i++ {
			frame, _, err := b.ReadSingle(ctx, idA)
			if err != nil {
				errs[0] = err
				return
			}
			out = append(out, frame[0])
		}
		results[0] = out
	}()
	go func() {
		defer wg.Done()
		data, _, err := b.Read(ctx, idB, 100)
		if err != nil {
			errs[1] = err
			return
		}
		results[1] = data
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	for i := 0; i < 100; i++ {
		assert.Equal(t, float64(i), results[0][i], "consumer A sample %d", i)
		assert.Equal(t, float64(i), results[1][i], "consumer B sample %d", i)
	}
}

func TestRunStateCallbacks(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})

	var mu sync.Mutex
	var states []bool
	cb := func(running bool) {
		mu.Lock()
		states = append(states, running)
		mu.Unlock()
	}

	// Invoked immediately at registration with the current state.
	require.NoError(t, b.RegisterConsumer(uuid.New(), cb))
	require.NoError(t, b.Start())
	require.NoError(t, b.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true, false}, states)
}

func TestConfigureWhileRunningFails(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})
	require.NoError(t, b.Start())
	defer b.Stop()

	err := b.Configure([]string{"ramp"}, stream.ModeContinuous, 128, 100)
	assert.ErrorIs(t, err, stream.ErrConfiguration)
}

func TestConfigureReallocatesConsumerBuffers(t *testing.T) {
	p := rampProducer(t, stream.TimingConstant)
	b := New(p, Options{})
	id := uuid.New()
	require.NoError(t, b.RegisterConsumer(id, nil))

	require.NoError(t, b.Configure([]string{"ramp"}, stream.ModeContinuous, 256, 1000))
	require.NoError(t, b.Start())
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, _, err := b.Read(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, data, 10)
}

func TestReadWhileStoppedFails(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})
	id := uuid.New()
	require.NoError(t, b.RegisterConsumer(id, nil))

	err := b.ReadInto(context.Background(), id, make([]float64, 4), 4, nil)
	assert.ErrorIs(t, err, stream.ErrNotRunning)

	_, err = b.AvailableSamples(id)
	assert.ErrorIs(t, err, stream.ErrNotRunning)
}

func TestTimestampedReadRequiresDestination(t *testing.T) {
	b := New(rampProducer(t, stream.TimingTimestamp), Options{})
	id := uuid.New()
	require.NoError(t, b.RegisterConsumer(id, nil))
	require.NoError(t, b.Start())
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Dropping the timestamp destination must be rejected outright, not
	// drain the data ring and leave the pair misaligned.
	err := b.ReadInto(ctx, id, make([]float64, 4), 4, nil)
	assert.ErrorIs(t, err, stream.ErrConfiguration)

	data, timestamps, err := b.Read(ctx, id, 8)
	require.NoError(t, err)
	require.Len(t, timestamps, 8)
	for i := range data {
		assert.InDelta(t, float64(i), data[i], 1e-9, "sample %d", i)
		assert.InDelta(t, float64(i)/5000, timestamps[i], 1e-9, "timestamp %d", i)
	}
}

func TestRunStateCallbackMayStopBroadcaster(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})

	stopErr := make(chan error, 1)
	cb := func(running bool) {
		if running {
			stopErr <- b.Stop()
		}
	}
	require.NoError(t, b.RegisterConsumer(uuid.New(), cb))

	done := make(chan error, 1)
	go func() { done <- b.Start() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("start blocked by run-state callback")
	}
	select {
	case err := <-stopErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("callback stop never completed")
	}
	assert.False(t, b.Running())
}

func TestStopMidReadSurfacesNotRunning(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})
	id := uuid.New()
	require.NoError(t, b.RegisterConsumer(id, nil))
	require.NoError(t, b.Start())

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Far more samples than arrive before the stop.
		_, _, err := b.Read(ctx, id, 1<<20)
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Stop())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, stream.ErrNotRunning)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after stop")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})
	require.NoError(t, b.Start())
	require.NoError(t, b.Start())
	assert.True(t, b.Running())
	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
	assert.False(t, b.Running())
}

func TestUnregisterLeavesOthersIntact(t *testing.T) {
	b := New(rampProducer(t, stream.TimingConstant), Options{})
	idA, idB := uuid.New(), uuid.New()
	require.NoError(t, b.RegisterConsumer(idA, nil))
	require.NoError(t, b.RegisterConsumer(idB, nil))
	require.NoError(t, b.Start())
	defer b.Stop()

	b.UnregisterConsumer(idA)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := b.Read(ctx, idB, 5)
	require.NoError(t, err)

	_, _, err = b.Read(ctx, idA, 5)
	assert.ErrorIs(t, err, stream.ErrConfiguration)
}

func TestHandleImplementsProducer(t *testing.T) {
	p := rampProducer(t, stream.TimingTimestamp)
	b := New(p, Options{})
	id := uuid.New()
	require.NoError(t, b.RegisterConsumer(id, nil))

	var h stream.Producer = b.Handle(id)
	assert.Equal(t, p.Constraints().SampleTiming, h.Constraints().SampleTiming)
	assert.Equal(t, []string{"ramp"}, h.ActiveChannels())

	require.NoError(t, h.Start())
	defer h.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, timestamps, err := h.Read(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, data, 8)
	require.Len(t, timestamps, 8)
	for i := 1; i < 8; i++ {
		assert.Greater(t, timestamps[i], timestamps[i-1])
	}
}
