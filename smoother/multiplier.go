package smoother

import (
	"fmt"
	"sync/atomic"

	"github.com/c360/smoothbus/errors"
)

// Multiplier is the process-wide scaling vector applied to samples before they
// are buffered. The vector is immutable once stored and swapped as a whole, so a
// reader never observes a partial update. A nil or empty vector is the identity.
type Multiplier struct {
	current atomic.Pointer[[]float64]
	updates atomic.Uint64
}

// NewMultiplier creates a multiplier cell holding a copy of initial.
func NewMultiplier(initial []float64) *Multiplier {
	m := &Multiplier{}
	m.store(initial)
	return m
}

// Load returns the current vector. Callers must not modify it.
func (m *Multiplier) Load() []float64 {
	if m == nil {
		return nil
	}
	v := m.current.Load()
	if v == nil {
		return nil
	}
	return *v
}

// Store replaces the vector with a copy of v. An empty v resets to identity.
func (m *Multiplier) Store(v []float64) {
	m.store(v)
	m.updates.Add(1)
}

func (m *Multiplier) store(v []float64) {
	if len(v) == 0 {
		m.current.Store(nil)
		return
	}
	cp := make([]float64, len(v))
	copy(cp, v)
	m.current.Store(&cp)
}

// Updates returns how many times Store has been called.
func (m *Multiplier) Updates() uint64 {
	if m == nil {
		return 0
	}
	return m.updates.Load()
}

// scale multiplies values element-wise by mult and returns a new slice.
// A single-element mult is broadcast; any other length mismatch is an error.
func scale(values, mult []float64) ([]float64, error) {
	out := make([]float64, len(values))
	switch {
	case len(mult) == 0:
		copy(out, values)
	case len(mult) == 1:
		for i, v := range values {
			out[i] = v * mult[0]
		}
	case len(mult) == len(values):
		for i, v := range values {
			out[i] = v * mult[i]
		}
	default:
		return nil, fmt.Errorf("%w: %d values, %d factors", errors.ErrMultiplierShape, len(values), len(mult))
	}
	return out, nil
}
