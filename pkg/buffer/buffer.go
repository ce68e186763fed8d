// Package buffer provides a generic fixed-capacity ring window.
package buffer

// Window is a bounded history of the most recent items.
// Pushing into a full window evicts the oldest item.
type Window[T any] interface {
	// Push appends item as the newest entry. It returns the evicted item and true
	// when the window was already full.
	Push(item T) (T, bool)

	// Newest returns the most recently pushed item.
	Newest() (T, bool)

	// Snapshot returns the buffered items ordered oldest to newest.
	Snapshot() []T

	// Each calls fn for every buffered item, newest first, with its age
	// (0 for the newest). Iteration stops when fn returns false.
	Each(fn func(age int, item T) bool)

	// Len returns the number of buffered items.
	Len() int

	// Capacity returns the maximum number of buffered items.
	Capacity() int

	// IsFull returns true if the next Push will evict an item.
	IsFull() bool

	// Clear drops every buffered item.
	Clear()

	// Evictions returns how many items were evicted by Push since creation.
	Evictions() int64
}

// NewWindow creates a ring window holding at most capacity items.
// A capacity below one is raised to one.
func NewWindow[T any](capacity int) Window[T] {
	return newRing[T](capacity)
}
