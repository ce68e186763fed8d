package facssmooth

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/smoothbus/metric"
)

// Outcome labels of a handled message.
const (
	outcomeSmoothed    = "smoothed"
	outcomeSynthesized = "synthesized"
	outcomeTerminal    = "terminal"
	outcomeDropped     = "dropped"
	outcomeMalformed   = "malformed"
	outcomeFailed      = "failed"
)

// transformMetrics holds Prometheus metrics for the transformer.
type transformMetrics struct {
	messages     *prometheus.CounterVec // By outcome
	windowResets *prometheus.CounterVec // By stream
	streams      prometheus.Gauge
	suppressed   prometheus.Counter
}

// newTransformMetrics creates and registers transformer metrics with the provided registry.
func newTransformMetrics(registry *metric.MetricsRegistry) (*transformMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &transformMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "transformer",
			Name:      "messages_total",
			Help:      "Inbound messages handled in function mode, by outcome",
		}, []string{"outcome"}),

		windowResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "transformer",
			Name:      "window_resets_total",
			Help:      "History windows discarded because the key set or window size changed",
		}, []string{"stream"}),

		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smoothbus",
			Subsystem: "transformer",
			Name:      "active_streams",
			Help:      "Number of history windows held by the smoother",
		}),

		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "transformer",
			Name:      "suppressed_warnings_total",
			Help:      "Warnings not logged because of rate limiting",
		}),
	}

	if err := registry.RegisterCounterVec("transformer", "messages_total", m.messages); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("transformer", "window_resets", m.windowResets); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("transformer", "active_streams", m.streams); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("transformer", "suppressed_warnings", m.suppressed); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *transformMetrics) recordOutcome(outcome string, streams int) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
	m.streams.Set(float64(streams))
}

func (m *transformMetrics) recordReset(stream string) {
	if m == nil {
		return
	}
	m.windowResets.WithLabelValues(stream).Inc()
}

func (m *transformMetrics) recordSuppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}
