package component

import (
	"context"
)

// State is the lifecycle state reported on the component_state gauge.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	// StateFailed means Run returned an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exit returns the state to record once Run has returned err.
func Exit(err error) State {
	if err != nil {
		return StateFailed
	}
	return StateStopped
}

// Runner is a component driven by a standing loop. Run blocks until ctx is
// cancelled or the component's input channel closes.
type Runner interface {
	Discoverable
	Run(ctx context.Context) error
}
