package buffer

import (
	"sync"
	"sync/atomic"
)

// ring is a thread-safe circular window with DropOldest semantics.
type ring[T any] struct {
	mu        sync.RWMutex
	items     []T
	capacity  int
	size      int
	head      int // next write position
	evictions atomic.Int64
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// tail returns the index of the oldest item. Caller holds the lock.
func (r *ring[T]) tail() int {
	return (r.head - r.size + r.capacity) % r.capacity
}

func (r *ring[T]) Push(item T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted T
	full := r.size == r.capacity
	if full {
		evicted = r.items[r.head]
		r.evictions.Add(1)
	} else {
		r.size++
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity

	return evicted, full
}

func (r *ring[T]) Newest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.head-1+r.capacity)%r.capacity], true
}

func (r *ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	start := r.tail()
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(start+i)%r.capacity]
	}
	return out
}

func (r *ring[T]) Each(fn func(age int, item T) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for age := 0; age < r.size; age++ {
		idx := (r.head - 1 - age + 2*r.capacity) % r.capacity
		if !fn(age, r.items[idx]) {
			return
		}
	}
}

func (r *ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.capacity // immutable
}

func (r *ring[T]) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size == r.capacity
}

func (r *ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero // release references
	}
	r.head = 0
	r.size = 0
}

func (r *ring[T]) Evictions() int64 {
	return r.evictions.Load()
}
