package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamlab-io/instream/internal/logging"
	"github.com/streamlab-io/instream/internal/stream"
)

// Client is a stream.Producer backed by a remote server. Constraints
// are fetched once at dial time; settings are mirrored locally after
// every call that can change them, so the getter methods never touch
// the network.
type Client struct {
	conn *websocket.Conn
	log  *logging.Logger

	constraints stream.Constraints

	mu     sync.Mutex
	nextID uint64
	state  StatePayload
}

var _ stream.Producer = (*Client)(nil)

// Dial connects to a remote producer endpoint and fetches its
// constraints and current state.
func Dial(ctx context.Context, url string, log *logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, log: log.Component("remote_client")}

	resp, err := c.call(&Request{Op: OpConstraints})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Constraints == nil {
		conn.Close()
		return nil, fmt.Errorf("remote: constraints missing from handshake")
	}
	c.constraints = DecodeConstraints(resp.Constraints)
	if err := c.refreshState(); err != nil {
		conn.Close()
		return nil, err
	}
	c.log.Info("connected", zap.String("url", url),
		zap.Int("channels", len(c.constraints.ChannelUnits)))
	return c, nil
}

// Close tears down the connection. The remote stream keeps its state.
func (c *Client) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// call performs one synchronous request/response exchange. A single
// exchange is in flight at a time.
func (c *Client) call(req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLocked(req)
}

func (c *Client) callLocked(req *Request) (*Response, error) {
	c.nextID++
	req.ID = c.nextID
	payload, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Op, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Op, err)
	}
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("receive %s: %w", req.Op, err)
		}
		var resp Response
		if err := sonic.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.Op, err)
		}
		// Stale responses from an abandoned exchange are skipped.
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return nil, CodeError(resp.Error)
		}
		return &resp, nil
	}
}

func (c *Client) refreshState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshStateLocked()
}

func (c *Client) refreshStateLocked() error {
	resp, err := c.callLocked(&Request{Op: OpState})
	if err != nil {
		return err
	}
	if resp.State != nil {
		c.state = *resp.State
	}
	return nil
}

// Constraints implements stream.Producer.
func (c *Client) Constraints() stream.Constraints { return c.constraints }

// ActiveChannels implements stream.Producer.
func (c *Client) ActiveChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.state.ActiveChannels...)
}

// SampleRate implements stream.Producer.
func (c *Client) SampleRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SampleRate
}

// ChannelBufferSize implements stream.Producer.
func (c *Client) ChannelBufferSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ChannelBufferSize
}

// StreamingMode implements stream.Producer.
func (c *Client) StreamingMode() stream.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ParseMode(c.state.Mode)
}

// Running implements stream.Producer.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Running
}

// AvailableSamples implements stream.Producer. This one does go to the
// network: availability is the only state the server advances on its
// own.
func (c *Client) AvailableSamples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshStateLocked(); err != nil {
		c.log.Debug("state refresh failed", zap.Error(err))
		return 0
	}
	return c.state.AvailableSamples
}

// Configure implements stream.Producer.
func (c *Client) Configure(channels []string, mode stream.Mode, bufferSize int, sampleRate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, err := c.callLocked(&Request{
		Op: OpConfigure,
		Configure: &ConfigureParams{
			Channels:   channels,
			Mode:       mode.String(),
			BufferSize: bufferSize,
			SampleRate: sampleRate,
		},
	})
	if err != nil {
		return err
	}
	if resp.State != nil {
		c.state = *resp.State
	}
	return nil
}

// Start implements stream.Producer.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.callLocked(&Request{Op: OpStart}); err != nil {
		return err
	}
	return c.refreshStateLocked()
}

// Stop implements stream.Producer.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.callLocked(&Request{Op: OpStop}); err != nil {
		return err
	}
	return c.refreshStateLocked()
}

// readRequest performs one read exchange, deriving the server-side
// timeout from the context deadline.
func (c *Client) readRequest(ctx context.Context, samplesPerChannel int, available bool) (*SamplesPayload, error) {
	req := &Request{Op: OpReadAvailable}
	if !available {
		params := &ReadParams{SamplesPerChannel: samplesPerChannel}
		if deadline, ok := ctx.Deadline(); ok {
			params.TimeoutMillis = time.Until(deadline).Milliseconds()
		}
		req = &Request{Op: OpRead, Read: params}
	}
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	if resp.Samples == nil {
		return nil, fmt.Errorf("remote: samples missing from %s response", req.Op)
	}
	return resp.Samples, nil
}

// ReadInto implements stream.Producer.
func (c *Client) ReadInto(ctx context.Context, data []float64, samplesPerChannel int, timestamps []float64) error {
	payload, err := c.readRequest(ctx, samplesPerChannel, false)
	if err != nil {
		return err
	}
	copy(data, payload.Data)
	if timestamps != nil {
		copy(timestamps, payload.Timestamps)
	}
	return nil
}

// ReadAvailableInto implements stream.Producer.
func (c *Client) ReadAvailableInto(ctx context.Context, data []float64, timestamps []float64) (int, error) {
	payload, err := c.readRequest(ctx, -1, true)
	if err != nil {
		return 0, err
	}
	n := payload.SamplesPerChannel
	channels := 1
	if n > 0 {
		channels = len(payload.Data) / n
	}
	if limit := len(data) / channels; n > limit {
		n = limit
	}
	copy(data, payload.Data[:n*channels])
	if timestamps != nil && payload.Timestamps != nil {
		copy(timestamps, payload.Timestamps[:min(n, len(timestamps))])
	}
	return n, nil
}

// Read implements stream.Producer.
func (c *Client) Read(ctx context.Context, samplesPerChannel int) ([]float64, []float64, error) {
	if samplesPerChannel < 0 {
		payload, err := c.readRequest(ctx, -1, true)
		if err != nil {
			return nil, nil, err
		}
		return payload.Data, payload.Timestamps, nil
	}
	payload, err := c.readRequest(ctx, samplesPerChannel, false)
	if err != nil {
		return nil, nil, err
	}
	return payload.Data, payload.Timestamps, nil
}

// ReadSingle implements stream.Producer.
func (c *Client) ReadSingle(ctx context.Context) ([]float64, float64, error) {
	data, timestamps, err := c.Read(ctx, 1)
	if err != nil {
		return nil, 0, err
	}
	ts := 0.
	if len(timestamps) > 0 {
		ts = timestamps[0]
	}
	return data, ts, nil
}
