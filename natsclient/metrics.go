package natsclient

import (
	"github.com/c360/smoothbus/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// connectionMetrics holds Prometheus metrics for the NATS connection.
// All methods are no-ops on a nil receiver.
type connectionMetrics struct {
	status         prometheus.Gauge
	reconnects     prometheus.Counter
	published      prometheus.Counter
	publishedBytes prometheus.Counter
	errors         *prometheus.CounterVec
}

func newConnectionMetrics(registry *metric.MetricsRegistry) (*connectionMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &connectionMetrics{
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smoothbus",
			Subsystem: "nats",
			Name:      "connection_status",
			Help:      "Connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=circuit_open)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of reconnections to the NATS server",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "nats",
			Name:      "published_messages_total",
			Help:      "Total number of messages published",
		}),
		publishedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "nats",
			Name:      "published_bytes_total",
			Help:      "Total payload bytes published",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "nats",
			Name:      "errors_total",
			Help:      "Total number of NATS operation errors",
		}, []string{"operation"}), // publish, subscribe, kv_create, slow_consumer
	}

	if err := registry.RegisterGauge("nats", "connection_status", m.status); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "published_messages", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "published_bytes", m.publishedBytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("nats", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *connectionMetrics) recordStatus(status ConnectionStatus) {
	if m == nil {
		return
	}
	m.status.Set(float64(status))
}

func (m *connectionMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *connectionMetrics) recordPublish(size int) {
	if m == nil {
		return
	}
	m.published.Inc()
	m.publishedBytes.Add(float64(size))
}

func (m *connectionMetrics) recordError(operation string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation).Inc()
}
