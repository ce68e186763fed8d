package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c360/smoothbus/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func families(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	gathered, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(gathered))
	for _, mf := range gathered {
		names[mf.GetName()] = true
	}
	return names
}

func counter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: name})
}

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.CoreMetrics())
	assert.Empty(t, r.Keys())
	assert.True(t, families(t, r)["go_goroutines"])
}

func TestRegister(t *testing.T) {
	r := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "router_commands", Help: "c"}, []string{"result"})
	require.NoError(t, r.RegisterCounter("nats", "reconnects", counter("nats_reconnects")))
	require.NoError(t, r.RegisterGauge("router", "length", prometheus.NewGauge(prometheus.GaugeOpts{Name: "router_length", Help: "g"})))
	require.NoError(t, r.RegisterCounterVec("router", "commands", cv))
	require.NoError(t, r.Register("transformer", "latency", prometheus.NewHistogram(prometheus.HistogramOpts{Name: "transformer_latency", Help: "h"})))

	cv.WithLabelValues("applied").Inc()

	names := families(t, r)
	for _, n := range []string{"nats_reconnects", "router_length", "router_commands", "transformer_latency"} {
		assert.True(t, names[n], n)
	}
	assert.Equal(t, []string{"nats.reconnects", "router.commands", "router.length", "transformer.latency"}, r.Keys())
}

func TestRegister_Conflicts(t *testing.T) {
	r := NewMetricsRegistry()
	require.NoError(t, r.RegisterCounter("svc", "dup", counter("dup_a")))

	err := r.RegisterCounter("svc", "dup", counter("dup_b"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = r.RegisterCounter("other", "dup", counter("dup_a"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()
	c := counter("temp_counter")

	require.NoError(t, r.RegisterCounter("svc", "temp", c))
	assert.True(t, families(t, r)["temp_counter"])

	assert.True(t, r.Unregister("svc", "temp"))
	assert.False(t, families(t, r)["temp_counter"])
	assert.False(t, r.Unregister("svc", "temp"))

	require.NoError(t, r.RegisterCounter("svc", "temp", c), "the key is free again")
}

func TestRegister_Concurrent(t *testing.T) {
	r := NewMetricsRegistry()
	var registrar MetricsRegistrar = r

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, registrar.Register("worker", fmt.Sprint(id), counter(fmt.Sprintf("worker_%d_total", id))))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range families(t, r) {
		if strings.HasPrefix(name, "worker_") {
			count++
		}
	}
	assert.Equal(t, n, count)
	assert.Len(t, r.Keys(), n)
}

func TestCoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	core := r.CoreMetrics()

	core.RecordComponentState("relay", 1)
	core.RecordMessageReceived("facs_smooth", "inbound")
	core.RecordMessageReceived("facs_smooth", "inbound")
	core.RecordMessagePublished("facs_smooth")
	core.RecordProcessingDuration("facs_smooth", "process", 200*time.Microsecond)
	core.RecordError("facs_smooth", "invalid")
	core.RecordHealthStatus("relay", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(core.ComponentState.WithLabelValues("relay")))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.MessagesReceived.WithLabelValues("facs_smooth", "inbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("facs_smooth", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("relay")))

	core.RecordHealthStatus("relay", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("relay")))

	names := families(t, r)
	for _, n := range []string{
		"smoothbus_component_state",
		"smoothbus_messages_received_total",
		"smoothbus_messages_published_total",
		"smoothbus_processing_duration_seconds",
		"smoothbus_errors_total",
		"smoothbus_health_status",
	} {
		assert.True(t, names[n], n)
	}
}

func TestCoreMetrics_Nil(t *testing.T) {
	var core *Metrics
	assert.NotPanics(t, func() {
		core.RecordComponentState("x", 1)
		core.RecordMessageReceived("x", "inbound")
		core.RecordMessagePublished("x")
		core.RecordProcessingDuration("x", "y", time.Millisecond)
		core.RecordError("x", "fatal")
		core.RecordHealthStatus("x", false)
	})
}
