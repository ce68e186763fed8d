package natsclient

import (
	"sync"
	"time"
)

const initialBackoff = time.Second

// breaker opens after threshold consecutive failures and stays open for the
// current backoff. Each opening doubles the backoff up to max. Any success
// closes it and resets the backoff.
type breaker struct {
	mu        sync.Mutex
	threshold int
	max       time.Duration
	now       func() time.Time

	streak    int
	failures  int
	backoff   time.Duration
	openUntil time.Time
}

func newBreaker(threshold int, max time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		max:       max,
		now:       time.Now,
		backoff:   initialBackoff,
	}
}

// allow reports whether an attempt may go ahead.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// failure records a failed attempt and reports whether it opened the circuit.
func (b *breaker) failure() (opened bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.streak++
	if b.streak < b.threshold {
		return false, 0
	}

	wait = b.backoff
	b.openUntil = b.now().Add(wait)
	b.backoff = min(b.backoff*2, b.max)
	b.streak = 0
	return true, wait
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streak = 0
	b.failures = 0
	b.backoff = initialBackoff
	b.openUntil = time.Time{}
}

func (b *breaker) snapshot() (failures int, backoff time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.backoff
}
