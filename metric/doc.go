// Package metric provides the Prometheus metrics registry and HTTP server used by
// the relay.
//
// # Architecture
//
//  1. Core metrics: relay-level counters every component shares (Metrics type).
//  2. Component registry: components register their own collectors under a
//     "owner.name" key through the MetricsRegistrar interface.
//  3. HTTP server: /metrics in Prometheus format and /health (Server type).
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, relay.Healthy)
//
//	g.Go(func() error { return server.Run(ctx) })
//
//	registry.CoreMetrics().RecordMessageReceived("facs_smooth", "inbound")
//
// # Component Metrics
//
// Components build their collectors with the "smoothbus" namespace and register
// them once at construction. A nil registry disables metrics; the component's
// recording helpers then become no-ops:
//
//	func newTransformMetrics(registry *metric.MetricsRegistry) (*transformMetrics, error) {
//	    if registry == nil {
//	        return nil, nil
//	    }
//	    ...
//	}
//
// Registering the same key twice returns an invalid-class error, so two relays
// cannot share one registry by accident.
package metric
