package paramrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/component"
	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/metric"
	"github.com/c360/smoothbus/pkg/retry"
	"github.com/c360/smoothbus/smoother"
)

const componentName = "param-router"

// Command envelope positions.
const (
	partSender = iota
	partTopic
	partData
)

// Config configures the router.
type Config struct {
	// CommandPrefix selects multiplier commands by command topic prefix.
	CommandPrefix string
	// StoreTimeout bounds each persistence call. Zero leaves it unbounded.
	StoreTimeout time.Duration
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{CommandPrefix: "multiplier", StoreTimeout: 2 * time.Second}
}

// Stats is a snapshot of the router counters.
type Stats struct {
	Received  int64
	Applied   int64
	Ignored   int64
	Malformed int64
}

// Router consumes (sender, command topic, data) envelopes and installs new
// multiplier vectors. It is the only writer of the multiplier.
type Router struct {
	name       string
	cfg        Config
	in         bus.Receiver
	multiplier *smoother.Multiplier
	store      MultiplierStore
	logger     *slog.Logger
	warns      *rate.Limiter

	running atomic.Bool
	flow    component.FlowCounter

	received  atomic.Int64
	applied   atomic.Int64
	ignored   atomic.Int64
	malformed atomic.Int64

	metrics *routerMetrics
	core    *metric.Metrics
}

// New creates a router. store may be nil, in which case updates live only in memory.
func New(
	cfg Config, in bus.Receiver, multiplier *smoother.Multiplier, store MultiplierStore, deps component.Dependencies,
) (*Router, error) {
	if in == nil {
		return nil, errors.WrapFatal(errors.ErrMissingChannel, "Router", "New", "command channel required")
	}
	if multiplier == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Router", "New", "multiplier required")
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = DefaultConfig().CommandPrefix
	}

	logger := deps.GetLoggerWithComponent(componentName)

	metrics, err := newRouterMetrics(deps.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize router metrics", "error", err)
		metrics = nil
	}

	return &Router{
		name:       componentName,
		cfg:        cfg,
		in:         in,
		multiplier: multiplier,
		store:      store,
		logger:     logger,
		warns:      rate.NewLimiter(rate.Every(time.Second), 10),
		metrics:    metrics,
		core:       deps.CoreMetrics(),
	}, nil
}

// Restore installs the persisted multiplier, if any. It reports whether a
// vector was restored.
func (r *Router) Restore(ctx context.Context) (bool, error) {
	if r.store == nil {
		return false, nil
	}

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	var values []float64
	var ok bool
	err := retry.Do(ctx, retry.Quick(), func(ctx context.Context) error {
		var err error
		values, ok, err = r.store.Load(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	if !ok {
		r.logger.Debug("No persisted multiplier")
		return false, nil
	}

	r.multiplier.Store(values)
	r.metrics.recordMultiplier(len(values))
	r.logger.Info("Restored multiplier", "multiplier", values)
	return true, nil
}

// Run consumes commands until ctx is cancelled or the command channel closes.
func (r *Router) Run(ctx context.Context) (err error) {
	if !r.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Router", "Run", "check running state")
	}
	defer r.running.Store(false)

	r.flow.Start()
	r.core.RecordComponentState(r.name, int(component.StateRunning))
	r.core.RecordHealthStatus(r.name, true)
	defer func() {
		r.core.RecordComponentState(r.name, int(component.Exit(err)))
		r.core.RecordHealthStatus(r.name, false)
	}()

	r.logger.Info("Parameter router started", "command_prefix", r.cfg.CommandPrefix)

	for {
		msg, err := r.in.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errors.ErrChannelClosed) {
				r.logger.Info("Parameter router stopped", "applied", r.applied.Load())
				return nil
			}
			if errors.IsFatal(err) {
				return err
			}
			r.received.Add(1)
			r.reject(err)
			continue
		}

		r.received.Add(1)
		r.flow.Message(msg.Size())
		r.core.RecordMessageReceived(r.name, "commands")

		if _, err := r.Handle(ctx, msg); err != nil {
			r.reject(err)
		}
	}
}

// Handle applies one command envelope. It reports whether the multiplier was
// replaced; unrecognized command topics are ignored without error.
func (r *Router) Handle(ctx context.Context, msg bus.Message) (bool, error) {
	if msg.Len() != 3 {
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: expected 3 parts, got %d", errors.ErrMalformedCommand, msg.Len()),
			"Router", "Handle", "check envelope")
	}

	sender := string(msg.Part(partSender))
	topic := string(msg.Part(partTopic))

	if !strings.HasPrefix(topic, r.cfg.CommandPrefix) {
		r.ignored.Add(1)
		r.metrics.recordCommand(outcomeIgnored)
		r.logger.Debug("Ignoring command", "sender", sender, "command_topic", topic)
		return false, nil
	}

	values, err := parseVector(msg.Part(partData))
	if err != nil {
		return false, errors.WrapInvalid(err, "Router", "Handle", "parse multiplier")
	}

	r.multiplier.Store(values)
	r.applied.Add(1)
	r.metrics.recordCommand(outcomeApplied)
	r.metrics.recordMultiplier(len(values))
	r.logger.Info("Multiplier updated", "sender", sender, "command_topic", topic, "multiplier", values)

	if r.store != nil {
		sctx, cancel := r.storeContext(ctx)
		defer cancel()
		if err := r.store.Save(sctx, values); err != nil {
			r.metrics.recordPersistError()
			r.core.RecordError(r.name, errors.Label(err))
			r.warn("Failed to persist multiplier", "error", err)
		}
	}
	return true, nil
}

func (r *Router) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StoreTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.StoreTimeout)
	}
	return ctx, func() {}
}

func (r *Router) reject(err error) {
	r.malformed.Add(1)
	r.flow.Error(err)
	r.metrics.recordCommand(outcomeMalformed)
	r.core.RecordError(r.name, errors.Label(err))
	r.warn("Skipping command", "error", err)
}

func (r *Router) warn(msg string, args ...any) {
	if r.warns.Allow() {
		r.logger.Warn(msg, args...)
		return
	}
	r.logger.Debug(msg, args...)
}

// parseVector decodes a JSON array of finite numbers. An empty array is valid.
func parseVector(data []byte) ([]float64, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: multiplier must be a JSON array of numbers", errors.ErrMalformedCommand)
	}

	var values []float64
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedCommand, err)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: element %d is not finite", errors.ErrMalformedCommand, i)
		}
	}
	return values, nil
}

// Stats returns a snapshot of the counters.
func (r *Router) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Applied:   r.applied.Load(),
		Ignored:   r.ignored.Load(),
		Malformed: r.malformed.Load(),
	}
}

// Meta returns metadata describing this processor component.
func (r *Router) Meta() component.Metadata {
	return component.Metadata{
		Name:        r.name,
		Type:        "processor",
		Description: "Installs multiplier vectors received on the command channel",
		Version:     "0.1.0",
	}
}

// Health returns the current health status of this processor.
func (r *Router) Health() component.HealthStatus {
	return r.flow.Health(r.running.Load())
}

// DataFlow returns current data flow metrics for this processor.
func (r *Router) DataFlow() component.FlowMetrics {
	return r.flow.Flow()
}

var _ component.Runner = (*Router)(nil)
