package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for the MQTT event publisher.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered prometheus.Counter
	MessagesDropped   prometheus.Counter
	Errors            prometheus.Counter
	PublishLatency    prometheus.Histogram
	registry          *prometheus.Registry
}

// NewMQTTMetrics creates and registers the MQTT publisher metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})

	m.MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_mqtt_messages_delivered_total",
		Help: "Session events published to the broker",
	})

	m.MessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_mqtt_messages_dropped_total",
		Help: "Session events dropped because the publish queue was full",
	})

	m.Errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_mqtt_errors_total",
		Help: "MQTT connect and publish errors",
	})

	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamhub_mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
}

// UpdateConnectionStatus sets the connection gauge.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionStatus.Set(1)
	} else {
		m.ConnectionStatus.Set(0)
	}
}

// RecordPublish records one publish attempt.
func (m *MQTTMetrics) RecordPublish(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PublishLatency.Observe(d.Seconds())
	if err != nil {
		m.Errors.Inc()
		return
	}
	m.MessagesDelivered.Inc()
}

// RecordDropped counts an event that never reached the publish queue.
func (m *MQTTMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

// RecordError counts a connection error.
func (m *MQTTMetrics) RecordError() {
	if m == nil {
		return
	}
	m.Errors.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	ch <- m.MessagesDelivered
	ch <- m.MessagesDropped
	ch <- m.Errors
	ch <- m.PublishLatency
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	ch <- m.MessagesDelivered.Desc()
	ch <- m.MessagesDropped.Desc()
	ch <- m.Errors.Desc()
	ch <- m.PublishLatency.Desc()
}
