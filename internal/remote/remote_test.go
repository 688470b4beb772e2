package remote

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlab-io/instream/internal/stream"
	"github.com/streamlab-io/instream/internal/stream/sim"
)

func TestConstraintsRoundTrip(t *testing.T) {
	c := stream.Constraints{
		ChannelUnits: map[string]string{"apd": "c/s", "piezo": "m"},
		SampleTiming: stream.TimingTimestamp,
		Modes:        []stream.Mode{stream.ModeContinuous, stream.ModeFinite},
		SampleRate:   stream.FloatRange{Min: 1, Max: 1e6, Default: 1000},
		BufferSize:   stream.IntRange{Min: 2, Max: 1 << 20, Default: 4096},
	}
	decoded := DecodeConstraints(EncodeConstraints(c))
	assert.Equal(t, c, decoded)
}

func TestErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{stream.ErrConfiguration, CodeConfiguration},
		{stream.ErrNotRunning, CodeNotRunning},
		{stream.ErrTimeout, CodeTimeout},
		{stream.ErrBufferFull, CodeBufferFull},
		{stream.ErrSynchronization, CodeSync},
		{errors.New("disk on fire"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err))
	}

	// The sentinel survives the wire round trip.
	err := CodeError(&ErrorInfo{Code: CodeNotRunning, Message: "stream is stopped"})
	assert.ErrorIs(t, err, stream.ErrNotRunning)
	err = CodeError(&ErrorInfo{Code: CodeInternal, Message: "boom"})
	assert.NotNil(t, err)
}

func newTestEndpoint(t *testing.T) (*Server, string) {
	t.Helper()
	producer, err := sim.New(sim.Options{
		Channels: []sim.Channel{
			{Name: "ramp", Unit: "V", Shape: sim.ShapeRamp},
		},
		Timing: stream.TimingConstant,
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	server := NewServer(producer, nil)
	router.GET("/ws/stream", server.HandleConnection)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return server, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/stream"
}

func TestClientMirrorsRemoteProducer(t *testing.T) {
	_, url := newTestEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close()

	c := client.Constraints()
	assert.True(t, c.HasChannel("ramp"))
	assert.Equal(t, stream.TimingConstant, c.SampleTiming)
	assert.False(t, client.Running())

	require.NoError(t, client.Configure([]string{"ramp"}, stream.ModeContinuous, 512, 1000))
	assert.Equal(t, []string{"ramp"}, client.ActiveChannels())
	assert.Equal(t, 512, client.ChannelBufferSize())
	assert.Equal(t, 1000., client.SampleRate())
	assert.Equal(t, stream.ModeContinuous, client.StreamingMode())
}

func TestClientReadsRemoteStream(t *testing.T) {
	_, url := newTestEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Configure([]string{"ramp"}, stream.ModeContinuous, 512, 1000))
	require.NoError(t, client.Start())
	assert.True(t, client.Running())

	data, timestamps, err := client.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, data, 10)
	assert.Nil(t, timestamps)
	// The simulated ramp is sequential from zero.
	for i, v := range data {
		assert.Equal(t, float64(i), v)
	}

	frame, _, err := client.ReadSingle(ctx)
	require.NoError(t, err)
	require.Len(t, frame, 1)
	assert.Equal(t, 10., frame[0])

	require.NoError(t, client.Stop())
	assert.False(t, client.Running())
}

func TestClientSurfacesRemoteErrors(t *testing.T) {
	_, url := newTestEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close()

	// Unknown channel is rejected by the remote end.
	err = client.Configure([]string{"nope"}, stream.ModeContinuous, 512, 1000)
	assert.ErrorIs(t, err, stream.ErrConfiguration)

	// Reading a stopped stream surfaces the not-running sentinel.
	require.NoError(t, client.Configure([]string{"ramp"}, stream.ModeContinuous, 512, 1000))
	readCtx, readCancel := context.WithTimeout(ctx, time.Second)
	defer readCancel()
	err = client.ReadInto(readCtx, make([]float64, 4), 4, nil)
	assert.ErrorIs(t, err, stream.ErrNotRunning)
}
