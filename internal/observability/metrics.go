// Package observability owns the Prometheus registry and the metrics
// collectors shared by streamhub components.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/streamhub/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Worker    *metrics.WorkerMetrics
	Streaming *metrics.StreamingMetrics
	MQTT      *metrics.MQTTMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors and
// every streamhub collector registered on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	workerMetrics, err := metrics.NewWorkerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker metrics: %w", err)
	}

	streamingMetrics, err := metrics.NewStreamingMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Worker:    workerMetrics,
		Streaming: streamingMetrics,
		MQTT:      mqttMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
