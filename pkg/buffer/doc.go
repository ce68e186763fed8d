// Package buffer provides a thread-safe, generic, fixed-capacity ring window.
//
// # Overview
//
// A Window keeps the N most recent items pushed into it. It never blocks and never
// grows: pushing into a full window evicts the oldest item, the DropOldest policy.
// The smoother keeps one window per stream and walks it newest-first to compute
// decay-weighted averages.
//
// # Quick Start
//
//	w := buffer.NewWindow[[]float64](4)
//	w.Push([]float64{0.1, 0.2})
//	w.Push([]float64{0.3, 0.4})
//
//	w.Each(func(age int, v []float64) bool {
//	    // age 0 is the newest sample
//	    return true
//	})
//
//	history := w.Snapshot() // oldest to newest
//
// # Thread Safety
//
// All methods are safe for concurrent use. Each holds a read lock for the whole
// iteration, so fn must not call back into the same window's mutating methods.
package buffer
