package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/smoothbus/errors"
)

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 4 * time.Millisecond, Factor: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.WrapTransient(stderrors.New("refused"), "Test", "Do", "dial")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	cause := stderrors.New("connection refused")
	err := Do(context.Background(), fast(3), func(context.Context) error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnFinalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"fatal", errors.WrapFatal(errors.ErrMissingConfig, "Test", "Do", "load")},
		{"invalid", errors.WrapInvalid(errors.ErrMalformedCommand, "Test", "Do", "parse")},
		{"sentinel", errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast(5), func(context.Context) error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Initial: time.Hour, Max: time.Hour, Factor: 1}

	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return stderrors.New("timeout")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled after 1 attempts")
	assert.Equal(t, 1, calls)
}

func TestValue(t *testing.T) {
	calls := 0
	got, err := Value(context.Background(), fast(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, stderrors.New("unavailable")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestPolicyNormalized(t *testing.T) {
	p := Policy{}.normalized()
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, 100*time.Millisecond, p.Initial)
	assert.Equal(t, p.Initial, p.Max)
	assert.Equal(t, 1.0, p.Factor)

	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(stderrors.New("anything")))
}
