package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlab-io/instream/internal/stream"
)

func testProducer(t *testing.T, timing stream.SampleTiming) *Producer {
	t.Helper()
	p, err := New(Options{
		Channels: []Channel{
			{Name: "ramp", Unit: "c/s", Shape: ShapeRamp},
			{Name: "sine", Unit: "V", Shape: ShapeSine, Amplitude: 2, Period: 0.5},
		},
		Timing:     timing,
		SampleRate: stream.FloatRange{Min: 1, Max: 100000, Default: 1000},
		BufferSize: stream.IntRange{Min: 2, Max: 1 << 20, Default: 1024},
		Seed:       42,
	})
	require.NoError(t, err)
	return p
}

func TestConfigureClampsAndValidates(t *testing.T) {
	p := testProducer(t, stream.TimingConstant)

	require.NoError(t, p.Configure([]string{"sine"}, stream.ModeContinuous, 1<<30, 1e9))
	assert.Equal(t, []string{"sine"}, p.ActiveChannels())
	assert.Equal(t, 1<<20, p.ChannelBufferSize())
	assert.Equal(t, 100000., p.SampleRate())

	err := p.Configure([]string{"missing"}, stream.ModeContinuous, 64, 100)
	assert.ErrorIs(t, err, stream.ErrConfiguration)

	require.NoError(t, p.Start())
	err = p.Configure([]string{"sine"}, stream.ModeContinuous, 64, 100)
	assert.ErrorIs(t, err, stream.ErrConfiguration)
	require.NoError(t, p.Stop())
}

func TestAvailabilityGrowsWhileRunning(t *testing.T) {
	p := testProducer(t, stream.TimingConstant)
	require.NoError(t, p.Configure([]string{"ramp"}, stream.ModeContinuous, 4096, 10000))

	assert.Equal(t, 0, p.AvailableSamples())
	require.NoError(t, p.Start())
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, p.AvailableSamples(), 0)

	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.AvailableSamples())
}

func TestRampValuesAreSequential(t *testing.T) {
	p := testProducer(t, stream.TimingConstant)
	require.NoError(t, p.Configure([]string{"ramp"}, stream.ModeContinuous, 4096, 10000))
	require.NoError(t, p.Start())
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data := make([]float64, 100)
	require.NoError(t, p.ReadInto(ctx, data, 100, nil))
	for i, v := range data {
		assert.Equal(t, float64(i), v)
	}

	// Subsequent reads continue where the last one stopped.
	require.NoError(t, p.ReadInto(ctx, data[:10], 10, nil))
	assert.Equal(t, 100., data[0])
}

func TestTimestampTimingFillsTimestamps(t *testing.T) {
	p := testProducer(t, stream.TimingTimestamp)
	require.NoError(t, p.Configure([]string{"ramp", "sine"}, stream.ModeContinuous, 4096, 1000))
	require.NoError(t, p.Start())
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, timestamps, err := p.Read(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, data, 16)
	require.Len(t, timestamps, 8)
	for i := 0; i < 8; i++ {
		assert.InDelta(t, float64(i)/1000, timestamps[i], 1e-12)
	}
}

func TestFiniteModeStopsProducing(t *testing.T) {
	p := testProducer(t, stream.TimingConstant)
	require.NoError(t, p.Configure([]string{"ramp"}, stream.ModeFinite, 50, 10000))
	require.NoError(t, p.Start())
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data := make([]float64, 50)
	require.NoError(t, p.ReadInto(ctx, data, 50, nil))

	// The acquisition length is exhausted; nothing further arrives.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, p.AvailableSamples())
}

func TestReadWhileStoppedFails(t *testing.T) {
	p := testProducer(t, stream.TimingConstant)
	err := p.ReadInto(context.Background(), make([]float64, 2), 1, nil)
	assert.ErrorIs(t, err, stream.ErrNotRunning)

	_, err = p.ReadAvailableInto(context.Background(), make([]float64, 2), nil)
	assert.ErrorIs(t, err, stream.ErrNotRunning)
}

func TestReadTimeout(t *testing.T) {
	p := testProducer(t, stream.TimingConstant)
	require.NoError(t, p.Configure([]string{"ramp"}, stream.ModeContinuous, 1024, 1))
	require.NoError(t, p.Start())
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.ReadInto(ctx, make([]float64, 1000), 1000, nil)
	assert.ErrorIs(t, err, stream.ErrTimeout)
}
