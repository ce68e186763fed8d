package smoother

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/pkg/buffer"
)

// StreamID identifies one logical sub-stream of a payload.
type StreamID int

const (
	// ActionUnits is the au_r mapping.
	ActionUnits StreamID = 0
	// Pose is the pose mapping.
	Pose StreamID = 1
)

// String returns the stream name used in configuration and metrics.
func (id StreamID) String() string {
	switch id {
	case ActionUnits:
		return "action_units"
	case Pose:
		return "pose"
	default:
		return fmt.Sprintf("stream_%d", int(id))
	}
}

// StreamKey identifies one history window. Topic is empty unless histories are
// kept per topic.
type StreamKey struct {
	Topic  string
	Stream StreamID
}

// Params are the per-call smoothing parameters of a stream.
type Params struct {
	WindowSize      int
	Steep           float64
	ApplyMultiplier bool
}

// window is the history of one stream. Every buffered sample has the same keys.
type window struct {
	keys    []string
	samples buffer.Window[[]float64]
}

// Option configures a Smoother.
type Option func(*Smoother)

// WithLogger sets the logger used for window resets.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Smoother) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResetHook registers fn to be called whenever a window is reset because the
// key set or the window size changed.
func WithResetHook(fn func(key StreamKey)) Option {
	return func(s *Smoother) {
		s.onReset = fn
	}
}

// Smoother keeps a lazily created history window per stream key and produces the
// weighted average of each stream's recent samples.
type Smoother struct {
	strategy   Strategy
	multiplier *Multiplier
	logger     *slog.Logger
	onReset    func(StreamKey)

	mu      sync.Mutex
	windows map[StreamKey]*window
}

// New creates a smoother. A nil multiplier behaves as the identity.
func New(strategy Strategy, multiplier *Multiplier, opts ...Option) *Smoother {
	s := &Smoother{
		strategy:   strategy,
		multiplier: multiplier,
		logger:     slog.Default(),
		windows:    make(map[StreamKey]*window),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy returns the strategy chosen at construction.
func (s *Smoother) Strategy() Strategy {
	return s.strategy
}

// Smooth scales sample by the multiplier (when p.ApplyMultiplier is set), pushes
// it into the stream's window and returns the weighted average per key.
// On error the window is left untouched.
func (s *Smoother) Smooth(key StreamKey, sample map[string]float64, p Params) (map[string]float64, error) {
	if len(sample) == 0 {
		return map[string]float64{}, nil
	}

	keys, scaled, err := s.prepare(sample, p)
	if err != nil {
		return nil, err
	}

	if s.strategy == Passthrough {
		return zip(keys, scaled), nil
	}

	size := p.WindowSize
	if size < 1 {
		size = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, reuse := s.windows[key]
	reuse = reuse && w.samples.Capacity() == size && slices.Equal(w.keys, keys)

	// The average covers the new sample plus the history that survives the
	// push, so it is known before anything is stored.
	history := [][]float64{scaled}
	if reuse {
		w.samples.Each(func(age int, x []float64) bool {
			if age+1 >= size {
				return false
			}
			history = append(history, x)
			return true
		})
	}

	avg, err := s.average(history, p.Steep)
	if err != nil {
		return nil, err
	}

	if !reuse {
		w = s.replaceWindow(key, keys, size)
	}
	w.samples.Push(scaled)
	return zip(keys, avg), nil
}

// Check reports the error Smooth would return for sample before any history
// is involved: a non-finite value or a multiplier that does not fit.
func (s *Smoother) Check(sample map[string]float64, p Params) error {
	if len(sample) == 0 {
		return nil
	}
	_, _, err := s.prepare(sample, p)
	return err
}

// prepare orders the sample by key and applies the multiplier. Every scaled
// value is finite.
func (s *Smoother) prepare(sample map[string]float64, p Params) ([]string, []float64, error) {
	keys := make([]string, 0, len(sample))
	for k := range sample {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	values := make([]float64, len(keys))
	for i, k := range keys {
		v := sample[k]
		if !finite(v) {
			return nil, nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s is not finite", errors.ErrInvalidSample, k),
				"Smoother", "Smooth", "check sample")
		}
		values[i] = v
	}

	var mult []float64
	if p.ApplyMultiplier {
		mult = s.multiplier.Load()
	}
	scaled, err := scale(values, mult)
	if err != nil {
		return nil, nil, errors.WrapInvalid(err, "Smoother", "Smooth", "apply multiplier")
	}
	for i, v := range scaled {
		if !finite(v) {
			return nil, nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s overflows after scaling", errors.ErrInvalidSample, keys[i]),
				"Smoother", "Smooth", "apply multiplier")
		}
	}
	return keys, scaled, nil
}

// average returns the weighted mean of history, newest first. Weights are
// normalised before use so the sum stays within the range of the samples.
func (s *Smoother) average(history [][]float64, steep float64) ([]float64, error) {
	weights := make([]float64, len(history))
	var total float64
	for age := range history {
		weights[age] = s.strategy.weight(age, steep)
		total += weights[age]
	}
	if !finite(total) || total <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: weights for steep %v sum to %v", errors.ErrInvalidSample, steep, total),
			"Smoother", "Smooth", "weigh history")
	}

	avg := make([]float64, len(history[0]))
	for age, x := range history {
		w := weights[age] / total
		for i := range avg {
			avg[i] += w * x[i]
		}
	}
	for _, v := range avg {
		if !finite(v) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: average is not finite", errors.ErrInvalidSample),
				"Smoother", "Smooth", "average history")
		}
	}
	return avg, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// replaceWindow installs an empty window for key, logging when it replaces
// one whose key set or size no longer matches. Caller holds s.mu.
func (s *Smoother) replaceWindow(key StreamKey, keys []string, size int) *window {
	if old, ok := s.windows[key]; ok {
		s.logger.Debug("Resetting smoothing window",
			"stream", key.Stream.String(),
			"topic", key.Topic,
			"buffered", old.samples.Len(),
			"old_keys", len(old.keys),
			"new_keys", len(keys))
		if s.onReset != nil {
			s.onReset(key)
		}
	}

	w := &window{
		keys:    keys,
		samples: buffer.NewWindow[[]float64](size),
	}
	s.windows[key] = w
	return w
}

// History returns the buffered samples of a stream, oldest first.
func (s *Smoother) History(key StreamKey) []map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return nil
	}
	snapshot := w.samples.Snapshot()
	out := make([]map[string]float64, len(snapshot))
	for i, values := range snapshot {
		out[i] = zip(w.keys, values)
	}
	return out
}

// Streams returns the number of live history windows.
func (s *Smoother) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func zip(keys []string, values []float64) map[string]float64 {
	out := make(map[string]float64, len(keys))
	for i, k := range keys {
		out[k] = values[i]
	}
	return out
}
