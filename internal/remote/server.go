package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamlab-io/instream/internal/logging"
	"github.com/streamlab-io/instream/internal/stream"
)

// defaultReadTimeout bounds blocking reads when the client sends no
// explicit timeout.
const defaultReadTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // producers are exposed on trusted lab networks
	},
}

// Server answers stream requests over a WebSocket, backed by a local
// producer.
type Server struct {
	producer stream.Producer
	log      *logging.Logger
}

// NewServer wraps a producer for remote access.
func NewServer(producer stream.Producer, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	return &Server{producer: producer, log: log.Component("remote")}
}

// HandleConnection upgrades the request and serves frames until the
// peer disconnects. Requests on one connection are answered in order.
func (s *Server) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	s.log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read ended", zap.Error(err))
			}
			return
		}
		var req Request
		if err := sonic.Unmarshal(payload, &req); err != nil {
			s.log.Warn("malformed request", zap.Error(err))
			continue
		}
		resp := s.dispatch(c.Request.Context(), &req)
		out, err := sonic.Marshal(resp)
		if err != nil {
			s.log.Error("response encode failed", zap.Error(err))
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			s.log.Debug("write ended", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	resp := &Response{ID: req.ID, Op: req.Op}
	switch req.Op {
	case OpPing:
	case OpConstraints:
		resp.Constraints = EncodeConstraints(s.producer.Constraints())
	case OpState:
		resp.State = s.state()
	case OpConfigure:
		if req.Configure == nil {
			resp.Error = &ErrorInfo{Code: CodeConfiguration, Message: "missing configure params"}
			break
		}
		err := s.producer.Configure(req.Configure.Channels, ParseMode(req.Configure.Mode),
			req.Configure.BufferSize, req.Configure.SampleRate)
		if err != nil {
			resp.Error = &ErrorInfo{Code: ErrorCode(err), Message: err.Error()}
			break
		}
		resp.State = s.state()
	case OpStart:
		if err := s.producer.Start(); err != nil {
			resp.Error = &ErrorInfo{Code: ErrorCode(err), Message: err.Error()}
		}
	case OpStop:
		if err := s.producer.Stop(); err != nil {
			resp.Error = &ErrorInfo{Code: ErrorCode(err), Message: err.Error()}
		}
	case OpRead:
		resp.Samples, resp.Error = s.read(ctx, req.Read)
	case OpReadAvailable:
		resp.Samples, resp.Error = s.readAvailable(ctx)
	default:
		resp.Error = &ErrorInfo{Code: CodeInternal, Message: "unknown operation: " + req.Op}
	}
	return resp
}

func (s *Server) state() *StatePayload {
	return &StatePayload{
		ActiveChannels:    s.producer.ActiveChannels(),
		SampleRate:        s.producer.SampleRate(),
		ChannelBufferSize: s.producer.ChannelBufferSize(),
		Mode:              s.producer.StreamingMode().String(),
		Running:           s.producer.Running(),
		AvailableSamples:  s.producer.AvailableSamples(),
	}
}

func (s *Server) read(ctx context.Context, params *ReadParams) (*SamplesPayload, *ErrorInfo) {
	if params == nil || params.SamplesPerChannel < 0 {
		return nil, &ErrorInfo{Code: CodeConfiguration, Message: "missing read params"}
	}
	timeout := defaultReadTimeout
	if params.TimeoutMillis > 0 {
		timeout = time.Duration(params.TimeoutMillis) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, timestamps, err := s.producer.Read(ctx, params.SamplesPerChannel)
	if err != nil {
		return nil, &ErrorInfo{Code: ErrorCode(err), Message: err.Error()}
	}
	return &SamplesPayload{
		SamplesPerChannel: params.SamplesPerChannel,
		Data:              data,
		Timestamps:        timestamps,
	}, nil
}

func (s *Server) readAvailable(ctx context.Context) (*SamplesPayload, *ErrorInfo) {
	ctx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()

	channels := len(s.producer.ActiveChannels())
	if channels == 0 {
		channels = 1
	}
	capacity := s.producer.ChannelBufferSize()
	data := make([]float64, capacity*channels)
	var timestamps []float64
	if s.producer.Constraints().SampleTiming == stream.TimingTimestamp {
		timestamps = make([]float64, capacity)
	}
	n, err := s.producer.ReadAvailableInto(ctx, data, timestamps)
	if err != nil {
		return nil, &ErrorInfo{Code: ErrorCode(err), Message: err.Error()}
	}
	payload := &SamplesPayload{SamplesPerChannel: n, Data: data[:n*channels]}
	if timestamps != nil {
		payload.Timestamps = timestamps[:n]
	}
	return payload, nil
}
