package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the streaming core.
type Metrics struct {
	// Broadcaster metrics
	SamplesDistributed *prometheus.CounterVec
	BufferOverflows    *prometheus.CounterVec
	ConsumersActive    prometheus.Gauge
	PollCycles         prometheus.Counter

	// Synchronizer metrics
	MergeCycles    prometheus.Counter
	MergeErrors    prometheus.Counter
	SamplesMerged  prometheus.Counter
	IgnoredSamples prometheus.Counter

	// Read metrics
	ReadDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// New creates a metrics collector registered on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry or a fresh
// registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		startTime: time.Now(),

		SamplesDistributed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instream_samples_distributed_total",
				Help: "Samples per channel copied into consumer buffers",
			},
			[]string{"consumer"},
		),
		BufferOverflows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "instream_buffer_overflows_total",
				Help: "Writes that dropped a slow consumer's oldest samples",
			},
			[]string{"consumer"},
		),
		ConsumersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "instream_consumers_active",
				Help: "Currently registered broadcast consumers",
			},
		),
		PollCycles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "instream_poll_cycles_total",
				Help: "Completed broadcaster poll cycles",
			},
		),

		MergeCycles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "instream_merge_cycles_total",
				Help: "Completed synchronizer merge cycles",
			},
		),
		MergeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "instream_merge_errors_total",
				Help: "Merge cycles aborted by an error",
			},
		),
		SamplesMerged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "instream_samples_merged_total",
				Help: "Interpolated frames written to the combined stream",
			},
		),
		IgnoredSamples: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "instream_passthrough_samples_total",
				Help: "Frames passed through in single-input ignore mode",
			},
		),

		ReadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "instream_read_duration_seconds",
				Help:    "Blocking consumer read duration in seconds",
				Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"source"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "instream_uptime_seconds",
				Help: "Seconds since process start",
			},
		),
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// ObserveRead records one blocking read on the named source.
func (m *Metrics) ObserveRead(source string, d time.Duration) {
	m.ReadDuration.WithLabelValues(source).Observe(d.Seconds())
}
