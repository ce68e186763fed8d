package component

import (
	"time"
)

// Discoverable is implemented by every relay component so the controller and
// the status endpoint can inspect identity, health and throughput.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Metadata identifies a component.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "processor" or "controller"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a point-in-time health reading.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics are rates averaged since the component started.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Report bundles one component's readings for the status endpoint.
type Report struct {
	Metadata
	Health HealthStatus `json:"health"`
	Flow   FlowMetrics  `json:"flow"`
}

// Describe reads every facet of d at once.
func Describe(d Discoverable) Report {
	return Report{Metadata: d.Meta(), Health: d.Health(), Flow: d.DataFlow()}
}

// DescribeAll reports each component in order.
func DescribeAll(ds []Discoverable) []Report {
	out := make([]Report, 0, len(ds))
	for _, d := range ds {
		out = append(out, Describe(d))
	}
	return out
}
