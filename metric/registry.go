package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/smoothbus/errors"
)

// MetricsRegistrar is what a component needs to publish its own collectors.
type MetricsRegistrar interface {
	Register(owner, name string, collector prometheus.Collector) error
	Unregister(owner, name string) bool
}

// MetricsRegistry owns the Prometheus registry served on /metrics. Collectors
// are tracked under "owner.name" so each component registers a metric once.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu    sync.Mutex
	owned map[string]prometheus.Collector
}

// NewMetricsRegistry registers the shared relay metrics and the Go runtime and
// process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:  prometheus.NewRegistry(),
		core:  NewMetrics(),
		owned: make(map[string]prometheus.Collector),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry { return r.prom }

// CoreMetrics returns the metrics every component shares.
func (r *MetricsRegistry) CoreMetrics() *Metrics { return r.core }

func key(owner, name string) string { return owner + "." + name }

// Register adds collector under owner.name. Reusing a key, or a Prometheus
// descriptor clash with another owner, is an invalid-class error.
func (r *MetricsRegistry) Register(owner, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(owner, name)
	if _, taken := r.owned[k]; taken {
		return errors.WrapInvalid(fmt.Errorf("%s is already registered", k),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prom.Register(collector); err != nil {
		var clash prometheus.AlreadyRegisteredError
		if stderrors.As(err, &clash) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+k)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+k)
	}
	r.owned[k] = collector
	return nil
}

func (r *MetricsRegistry) RegisterCounter(owner, name string, c prometheus.Counter) error {
	return r.Register(owner, name, c)
}

func (r *MetricsRegistry) RegisterGauge(owner, name string, g prometheus.Gauge) error {
	return r.Register(owner, name, g)
}

func (r *MetricsRegistry) RegisterCounterVec(owner, name string, cv *prometheus.CounterVec) error {
	return r.Register(owner, name, cv)
}

// Unregister removes owner.name and frees the key.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(owner, name)
	collector, ok := r.owned[k]
	if !ok || !r.prom.Unregister(collector) {
		return false
	}
	delete(r.owned, k)
	return true
}

// Keys lists the registered owner.name keys in order.
func (r *MetricsRegistry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.owned))
	for k := range r.owned {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
