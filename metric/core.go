package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smoothbus"

// Metrics are the relay-wide series every loop records into. Series owned by
// a single component are registered by that component.
type Metrics struct {
	ComponentState     *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec
}

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

// NewMetrics builds the shared series without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentState: gaugeVec("component", "state",
			"Loop state (0=idle, 1=running, 2=stopped, 3=failed)", "component"),
		MessagesReceived: counterVec("messages", "received_total",
			"Messages taken off a channel", "component", "channel"),
		MessagesPublished: counterVec("messages", "published_total",
			"Messages sent on the outbound channel", "component"),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "duration_seconds",
			Help:      "Time from receive to publish for one message",
			// smoothing a frame takes microseconds
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"component", "operation"}),
		ErrorsTotal: counterVec("errors", "total",
			"Errors by class", "component", "class"),
		HealthCheckStatus: gaugeVec("health", "status",
			"1 while the loop is healthy", "component"),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ComponentState, m.MessagesReceived, m.MessagesPublished,
		m.ProcessingDuration, m.ErrorsTotal, m.HealthCheckStatus,
	}
}

// The Record methods are no-ops on a nil *Metrics so components run without
// a registry.

func (m *Metrics) RecordComponentState(component string, state int) {
	if m != nil {
		m.ComponentState.WithLabelValues(component).Set(float64(state))
	}
}

func (m *Metrics) RecordMessageReceived(component, channel string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(component, channel).Inc()
	}
}

func (m *Metrics) RecordMessagePublished(component string) {
	if m != nil {
		m.MessagesPublished.WithLabelValues(component).Inc()
	}
}

func (m *Metrics) RecordProcessingDuration(component, operation string, d time.Duration) {
	if m != nil {
		m.ProcessingDuration.WithLabelValues(component, operation).Observe(d.Seconds())
	}
}

// RecordError counts an error under its class label, see errors.Label.
func (m *Metrics) RecordError(component, class string) {
	if m != nil {
		m.ErrorsTotal.WithLabelValues(component, class).Inc()
	}
}

func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}
