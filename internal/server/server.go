package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/streamlab-io/instream/internal/broadcast"
	"github.com/streamlab-io/instream/internal/config"
	"github.com/streamlab-io/instream/internal/logging"
	"github.com/streamlab-io/instream/internal/metrics"
	"github.com/streamlab-io/instream/internal/middleware"
	"github.com/streamlab-io/instream/internal/remote"
	"github.com/streamlab-io/instream/internal/stream"
	"github.com/streamlab-io/instream/internal/stream/sim"
	"github.com/streamlab-io/instream/internal/syncstream"
)

// Server wraps the HTTP server and the streaming pipeline behind it.
//
// The pipeline mirrors the common lab setup: a high-rate counter feeds
// a broadcaster with two consumers. One consumer handle is exposed to
// remote WebSocket clients; the other drives a synchronizer as its
// primary input, merged with a timestamped wavemeter stream.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	counter     *sim.Producer
	wavemeter   *sim.Producer
	broadcaster *broadcast.Broadcaster
	remoteID    uuid.UUID
	syncID      uuid.UUID
	sync        *syncstream.Synchronizer

	httpSrv *http.Server
	cancel  context.CancelFunc
	started time.Time
}

// New creates a server instance with the full pipeline wired but not
// started.
func New(cfg *config.Config) (*Server, error) {
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		// An unparseable level should not take the daemon down.
		log = logging.NewDefault()
		log.Warn("falling back to default logger", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	counter, err := sim.New(sim.Options{
		Channels: []sim.Channel{
			{Name: "apd_counts", Unit: "c/s", Shape: sim.ShapeCounts, Offset: 2e4, Amplitude: 1e4, Period: 5},
		},
		Timing: stream.TimingConstant,
	})
	if err != nil {
		return nil, fmt.Errorf("counter producer: %w", err)
	}
	wavemeter, err := sim.New(sim.Options{
		Channels: []sim.Channel{
			{Name: "wavelength", Unit: "m", Shape: sim.ShapeSine, Offset: 637e-9, Amplitude: 1e-12, Period: 7, Noise: 1e-13},
		},
		Timing: stream.TimingTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("wavemeter producer: %w", err)
	}

	broadcaster := broadcast.New(counter, broadcast.Options{
		MaxPollRate: cfg.Stream.MaxPollRate,
		Logger:      log,
		Metrics:     m,
	})
	remoteID := uuid.New()
	syncID := uuid.New()
	if err := broadcaster.RegisterConsumer(remoteID, nil); err != nil {
		return nil, err
	}
	if err := broadcaster.RegisterConsumer(syncID, nil); err != nil {
		return nil, err
	}
	if err := broadcaster.Configure(counter.Constraints().ChannelNames(),
		stream.ModeContinuous, cfg.Stream.BufferSize, cfg.Stream.SampleRate); err != nil {
		return nil, fmt.Errorf("broadcaster configure: %w", err)
	}

	if err := wavemeter.Configure(wavemeter.Constraints().ChannelNames(),
		stream.ModeContinuous, cfg.Stream.BufferSize, cfg.Stream.SampleRate/10); err != nil {
		return nil, fmt.Errorf("wavemeter configure: %w", err)
	}

	synchronizer, err := syncstream.New(broadcaster.Handle(syncID), wavemeter, syncstream.Options{
		AllowOverwrite:          cfg.Sync.AllowOverwrite,
		MaxPollRate:             cfg.Stream.MaxPollRate,
		MinInterpolationSamples: cfg.Sync.MinSamples,
		Delay:                   cfg.Sync.Delay,
		Logger:                  log,
		Metrics:                 m,
	})
	if err != nil {
		return nil, fmt.Errorf("synchronizer setup: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		log:         log.Component("server"),
		registry:    registry,
		metrics:     m,
		counter:     counter,
		wavemeter:   wavemeter,
		broadcaster: broadcaster,
		remoteID:    remoteID,
		syncID:      syncID,
		sync:        synchronizer,
		started:     time.Now(),
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: s.router(),
	}
	return s, nil
}

// router builds the HTTP routing table.
func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)
	router.GET("/api/status", s.handleStatus)
	router.POST("/api/stream/start", s.handleStart)
	router.POST("/api/stream/stop", s.handleStop)
	router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	remoteServer := remote.NewServer(s.broadcaster.Handle(s.remoteID), s.log)
	router.GET("/ws/stream", remoteServer.HandleConnection)
	return router
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "instream",
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime_s":  time.Since(s.started).Seconds(),
		"streaming": s.broadcaster.Running(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	handle := s.broadcaster.Handle(s.remoteID)
	c.JSON(http.StatusOK, gin.H{
		"broadcaster": gin.H{
			"running":   s.broadcaster.Running(),
			"channels":  handle.ActiveChannels(),
			"rate_hz":   handle.SampleRate(),
			"consumers": s.broadcaster.ConsumerCount(),
		},
		"synchronizer": gin.H{
			"running":   s.sync.Running(),
			"channels":  s.sync.ActiveChannels(),
			"available": s.sync.AvailableSamples(),
		},
	})
}

func (s *Server) handleStart(c *gin.Context) {
	channels := s.sync.Constraints().ChannelNames()
	if !s.sync.Running() {
		if err := s.sync.Configure(channels, stream.ModeContinuous,
			s.cfg.Stream.BufferSize, s.cfg.Stream.SampleRate); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.broadcaster.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.sync.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.sync.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.broadcaster.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// Run starts the HTTP server and the background maintenance loop,
// blocking until both exit.
func (s *Server) Run() error {
	s.log.Info("starting streaming daemon",
		zap.String("addr", s.httpSrv.Addr),
		zap.Float64("sample_rate", s.cfg.Stream.SampleRate))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.metricsLoop(ctx)
		return nil
	})
	return g.Wait()
}

// metricsLoop keeps the uptime gauge current.
func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.UpdateUptime()
		}
	}
}

// Close stops the pipeline and shuts the HTTP server down gracefully.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown failed", zap.Error(err))
	}
	if err := s.sync.Stop(); err != nil {
		s.log.Warn("synchronizer stop failed", zap.Error(err))
	}
	if err := s.broadcaster.Stop(); err != nil {
		s.log.Warn("broadcaster stop failed", zap.Error(err))
	}
	s.log.Info("daemon stopped")
	return nil
}
