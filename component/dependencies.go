package component

import (
	"log/slog"

	"github.com/c360/smoothbus/metric"
	"github.com/c360/smoothbus/natsclient"
)

// Dependencies provides the external dependencies shared by relay components.
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client (nil when running on in-memory pipes)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// CoreMetrics returns the shared relay metrics, or nil when metrics are disabled.
func (d *Dependencies) CoreMetrics() *metric.Metrics {
	if d.MetricsRegistry == nil {
		return nil
	}
	return d.MetricsRegistry.CoreMetrics()
}
