package paramrouter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/smoothbus/metric"
)

// Command outcome labels.
const (
	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeMalformed = "malformed"
)

// routerMetrics holds Prometheus metrics for the parameter router.
type routerMetrics struct {
	commands      *prometheus.CounterVec // By outcome
	multiplierLen prometheus.Gauge
	persistErrors prometheus.Counter
}

func newRouterMetrics(registry *metric.MetricsRegistry) (*routerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &routerMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "param_router",
			Name:      "commands_total",
			Help:      "Parameter commands received, by outcome",
		}, []string{"outcome"}),
		multiplierLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smoothbus",
			Subsystem: "param_router",
			Name:      "multiplier_length",
			Help:      "Length of the installed multiplier vector (0 = identity)",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smoothbus",
			Subsystem: "param_router",
			Name:      "persist_errors_total",
			Help:      "Failures writing the multiplier to the parameter store",
		}),
	}

	if err := registry.RegisterCounterVec("param_router", "commands_total", m.commands); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("param_router", "multiplier_length", m.multiplierLen); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("param_router", "persist_errors", m.persistErrors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *routerMetrics) recordCommand(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

func (m *routerMetrics) recordMultiplier(length int) {
	if m == nil {
		return
	}
	m.multiplierLen.Set(float64(length))
}

func (m *routerMetrics) recordPersistError() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}
