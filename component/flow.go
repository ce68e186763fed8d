package component

import (
	"sync"
	"sync/atomic"
	"time"
)

// FlowCounter accumulates the counters behind Health and DataFlow.
// The zero value is ready to use; Start marks the beginning of the uptime.
type FlowCounter struct {
	messages atomic.Int64
	bytes    atomic.Int64
	errors   atomic.Int64

	mu           sync.RWMutex
	started      time.Time
	lastActivity time.Time
	lastError    string
}

// Start records the start time.
func (f *FlowCounter) Start() {
	f.mu.Lock()
	f.started = time.Now()
	f.mu.Unlock()
}

// Message records one received message of size bytes.
func (f *FlowCounter) Message(size int) {
	f.messages.Add(1)
	f.bytes.Add(int64(size))
	f.mu.Lock()
	f.lastActivity = time.Now()
	f.mu.Unlock()
}

// Error records a failed iteration.
func (f *FlowCounter) Error(err error) {
	f.errors.Add(1)
	if err == nil {
		return
	}
	f.mu.Lock()
	f.lastError = err.Error()
	f.mu.Unlock()
}

// Messages returns the number of recorded messages.
func (f *FlowCounter) Messages() int64 { return f.messages.Load() }

// Errors returns the number of recorded errors.
func (f *FlowCounter) Errors() int64 { return f.errors.Load() }

// Health builds a HealthStatus; running reports whether the loop is live.
func (f *FlowCounter) Health(running bool) HealthStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var uptime time.Duration
	if !f.started.IsZero() {
		uptime = time.Since(f.started)
	}
	return HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(f.errors.Load()),
		LastError:  f.lastError,
		Uptime:     uptime,
	}
}

// Flow builds FlowMetrics averaged over the uptime.
func (f *FlowCounter) Flow() FlowMetrics {
	f.mu.RLock()
	defer f.mu.RUnlock()

	messages := f.messages.Load()
	errs := f.errors.Load()

	var errorRate float64
	if messages > 0 {
		errorRate = float64(errs) / float64(messages)
	}

	flow := FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: f.lastActivity,
	}
	if !f.started.IsZero() {
		if elapsed := time.Since(f.started).Seconds(); elapsed > 0 {
			flow.MessagesPerSecond = float64(messages) / elapsed
			flow.BytesPerSecond = float64(f.bytes.Load()) / elapsed
		}
	}
	return flow
}
