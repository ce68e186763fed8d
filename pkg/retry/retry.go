package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/c360/smoothbus/errors"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	Attempts int           // total attempts, at least one
	Initial  time.Duration // delay before the second attempt
	Max      time.Duration // delay ceiling
	Factor   float64       // growth per attempt
	Jitter   bool          // add up to 25% random delay
}

// Startup suits connection setup at process start.
func Startup() Policy {
	return Policy{Attempts: 10, Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 1.5, Jitter: true}
}

// Quick suits short operations bounded by a caller deadline.
func Quick() Policy {
	return Policy{Attempts: 3, Initial: 50 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2, Jitter: true}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	return p
}

// Retryable reports whether err is worth another attempt. Fatal and invalid
// errors are final; everything else counts as transient.
func Retryable(err error) bool {
	return err != nil && errors.Classify(err) == errors.ErrorTransient
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. The last error is returned wrapped.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.normalized()
	delay := p.Initial

	var last error
	for attempt := 1; ; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !Retryable(last) {
			return last
		}
		if attempt == p.Attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, last)
		}

		wait := delay
		if p.Jitter && delay >= 4 {
			wait += time.Duration(rand.Int63n(int64(delay / 4)))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("cancelled after %d attempts: %w", attempt, last)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.Max {
			delay = p.Max
		}
	}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
