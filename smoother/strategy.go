package smoother

import (
	"fmt"
	"math"
	"strings"

	"github.com/c360/smoothbus/errors"
)

// Strategy selects how buffered samples are combined.
// The set is closed; a strategy is chosen once at startup.
type Strategy int

const (
	// TrailingMovingAverage weights a sample of age k by (1-steep)^k.
	TrailingMovingAverage Strategy = iota
	// MovingAverage weights every buffered sample equally.
	MovingAverage
	// Passthrough applies the multiplier and keeps no history.
	Passthrough
)

// Strategies lists every supported strategy in declaration order.
var Strategies = []Strategy{TrailingMovingAverage, MovingAverage, Passthrough}

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case TrailingMovingAverage:
		return "trailing_moving_average"
	case MovingAverage:
		return "moving_average"
	case Passthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return TrailingMovingAverage, nil
	}
	for _, s := range Strategies {
		if s.String() == normalized {
			return s, nil
		}
	}
	return 0, errors.WrapInvalid(
		fmt.Errorf("%w: unknown strategy %q", errors.ErrInvalidConfig, name),
		"Smoother", "ParseStrategy", "strategy lookup")
}

// weight returns the weight of a sample of the given age, 0 being the newest.
func (s Strategy) weight(age int, steep float64) float64 {
	if s != TrailingMovingAverage {
		return 1
	}
	return math.Pow(1-steep, float64(age))
}
