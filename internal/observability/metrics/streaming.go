package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Group destruction reasons
const (
	ReasonUnwanted       = "unwanted"
	ReasonBrokenConsumer = "broken_consumer"
	ReasonShutdown       = "shutdown"
)

// StreamingMetrics contains Prometheus metrics for the fan-out encoder and
// the session registry. All methods are safe to call on a nil receiver.
type StreamingMetrics struct {
	encodeGroups       prometheus.Gauge
	sessions           *prometheus.GaugeVec
	sessionsTotal      *prometheus.CounterVec
	encodedBytesTotal  *prometheus.CounterVec
	encodeDuration     prometheus.Histogram
	codecResetsTotal   *prometheus.CounterVec
	codecErrorsTotal   *prometheus.CounterVec
	groupsDestroyed    *prometheus.CounterVec
	silenceDeliveries  prometheus.Counter
	deliveriesTotal    prometheus.Counter
	forwardedBytes     prometheus.Counter
	icyMetadataUpdates prometheus.Counter
	registry           *prometheus.Registry
}

// NewStreamingMetrics creates and registers the streaming metrics.
func NewStreamingMetrics(registry *prometheus.Registry) (*StreamingMetrics, error) {
	m := &StreamingMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register streaming metrics: %w", err)
	}
	return m, nil
}

func (m *StreamingMetrics) initMetrics() {
	m.encodeGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_encode_groups",
		Help: "Number of active encode groups",
	})

	m.sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamhub_sessions",
			Help: "Number of connected streaming sessions",
		},
		[]string{"format"},
	)

	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_sessions_total",
			Help: "Streaming sessions accepted since start",
		},
		[]string{"format"},
	)

	m.encodedBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_encoded_bytes_total",
			Help: "Encoded bytes written into group pipes",
		},
		[]string{"format"},
	)

	m.encodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamhub_encode_pass_duration_seconds",
		Help:    "Time spent encoding one delivery for every group",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	m.codecResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_codec_resets_total",
			Help: "Codec contexts built because of a new group or an input quality change",
		},
		[]string{"format"},
	)

	m.codecErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_codec_errors_total",
			Help: "Codec build and encode failures",
		},
		[]string{"format", "stage"}, // stage: build, encode
	)

	m.groupsDestroyed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamhub_encode_groups_destroyed_total",
			Help: "Encode groups torn down",
		},
		[]string{"reason"}, // unwanted, broken_consumer, shutdown
	)

	m.silenceDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_silence_deliveries_total",
		Help: "Synthesised silence buffers sent through the encoder",
	})

	m.deliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_player_deliveries_total",
		Help: "PCM buffers delivered by the player while clients were connected",
	})

	m.forwardedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_forwarded_bytes_total",
		Help: "Bytes sent to streaming clients, including metadata",
	})

	m.icyMetadataUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_icy_metadata_blocks_total",
		Help: "Non-empty ICY metadata blocks sent",
	})
}

// SetEncodeGroups sets the current encode group count.
func (m *StreamingMetrics) SetEncodeGroups(n int) {
	if m == nil {
		return
	}
	m.encodeGroups.Set(float64(n))
}

// SessionOpened and SessionClosed track connected sessions per format.
func (m *StreamingMetrics) SessionOpened(format string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(format).Inc()
	m.sessionsTotal.WithLabelValues(format).Inc()
}

func (m *StreamingMetrics) SessionClosed(format string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(format).Dec()
}

// AddEncodedBytes counts bytes written into a group's pipe.
func (m *StreamingMetrics) AddEncodedBytes(format string, n int) {
	if m == nil {
		return
	}
	m.encodedBytesTotal.WithLabelValues(format).Add(float64(n))
}

// ObserveEncodePass records the duration of one encode pass.
func (m *StreamingMetrics) ObserveEncodePass(d time.Duration) {
	if m == nil {
		return
	}
	m.encodeDuration.Observe(d.Seconds())
}

// RecordCodecReset counts a codec context build.
func (m *StreamingMetrics) RecordCodecReset(format string) {
	if m == nil {
		return
	}
	m.codecResetsTotal.WithLabelValues(format).Inc()
}

// RecordCodecError counts a codec failure at stage "build" or "encode".
func (m *StreamingMetrics) RecordCodecError(format, stage string) {
	if m == nil {
		return
	}
	m.codecErrorsTotal.WithLabelValues(format, stage).Inc()
}

// RecordGroupDestroyed counts a torn down group.
func (m *StreamingMetrics) RecordGroupDestroyed(reason string) {
	if m == nil {
		return
	}
	m.groupsDestroyed.WithLabelValues(reason).Inc()
}

// RecordSilence counts a silence delivery.
func (m *StreamingMetrics) RecordSilence() {
	if m == nil {
		return
	}
	m.silenceDeliveries.Inc()
}

// RecordDelivery counts a player delivery that was dispatched.
func (m *StreamingMetrics) RecordDelivery() {
	if m == nil {
		return
	}
	m.deliveriesTotal.Inc()
}

// AddForwardedBytes counts bytes sent to clients.
func (m *StreamingMetrics) AddForwardedBytes(n int) {
	if m == nil {
		return
	}
	m.forwardedBytes.Add(float64(n))
}

// RecordICYMetadata counts a non-empty metadata block.
func (m *StreamingMetrics) RecordICYMetadata() {
	if m == nil {
		return
	}
	m.icyMetadataUpdates.Inc()
}

// Describe implements the Collector interface
func (m *StreamingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.encodeGroups.Describe(ch)
	m.sessions.Describe(ch)
	m.sessionsTotal.Describe(ch)
	m.encodedBytesTotal.Describe(ch)
	m.encodeDuration.Describe(ch)
	m.codecResetsTotal.Describe(ch)
	m.codecErrorsTotal.Describe(ch)
	m.groupsDestroyed.Describe(ch)
	m.silenceDeliveries.Describe(ch)
	m.deliveriesTotal.Describe(ch)
	m.forwardedBytes.Describe(ch)
	m.icyMetadataUpdates.Describe(ch)
}

// Collect implements the Collector interface
func (m *StreamingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.encodeGroups.Collect(ch)
	m.sessions.Collect(ch)
	m.sessionsTotal.Collect(ch)
	m.encodedBytesTotal.Collect(ch)
	m.encodeDuration.Collect(ch)
	m.codecResetsTotal.Collect(ch)
	m.codecErrorsTotal.Collect(ch)
	m.groupsDestroyed.Collect(ch)
	m.silenceDeliveries.Collect(ch)
	m.deliveriesTotal.Collect(ch)
	m.forwardedBytes.Collect(ch)
	m.icyMetadataUpdates.Collect(ch)
}
