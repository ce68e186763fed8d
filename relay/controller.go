package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/component"
	"github.com/c360/smoothbus/config"
	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/metric"
	facssmooth "github.com/c360/smoothbus/processor/facs_smooth"
	paramrouter "github.com/c360/smoothbus/processor/param_router"
	"github.com/c360/smoothbus/smoother"
)

const componentName = "relay"

// Channels are the transport endpoints of the relay.
type Channels struct {
	Inbound  bus.Receiver
	Outbound bus.Sender
	Commands bus.Receiver // function mode only
}

// Option configures a Controller.
type Option func(*Controller)

// WithMultiplier shares an existing multiplier cell instead of creating one.
func WithMultiplier(m *smoother.Multiplier) Option {
	return func(c *Controller) {
		if m != nil {
			c.multiplier = m
		}
	}
}

// WithStore persists multiplier updates and restores the last one on Run.
func WithStore(store paramrouter.MultiplierStore) Option {
	return func(c *Controller) {
		c.store = store
	}
}

// Controller runs the relay in the mode fixed at construction.
type Controller struct {
	id         string
	mode       config.Mode
	channels   Channels
	multiplier *smoother.Multiplier
	store      paramrouter.MultiplierStore
	logger     *slog.Logger
	warns      *rate.Limiter
	core       *metric.Metrics

	transformer *facssmooth.Transformer
	router      *paramrouter.Router

	running   atomic.Bool
	flow      component.FlowCounter
	forwarded atomic.Int64
}

// New validates cfg and the channels for cfg.Mode and builds the components
// of that mode. An invalid configuration or a missing channel is a fatal error.
func New(cfg *config.Config, channels Channels, deps component.Dependencies, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Controller", "New", "configuration required")
	}
	checked := *cfg
	if err := checked.Validate(); err != nil {
		return nil, errors.WrapFatal(err, "Controller", "New", "validate configuration")
	}
	cfg = &checked
	mode := cfg.Mode
	if channels.Inbound == nil {
		return nil, errors.WrapFatal(errors.ErrMissingChannel, "Controller", "New", "inbound channel required")
	}
	if channels.Outbound == nil {
		return nil, errors.WrapFatal(errors.ErrMissingChannel, "Controller", "New", "outbound channel required")
	}

	id := cfg.Instance
	if id == "" {
		id = uuid.NewString()
	}

	c := &Controller{
		id:         id,
		mode:       mode,
		channels:   channels,
		multiplier: smoother.NewMultiplier(nil),
		logger:     deps.GetLoggerWithComponent(componentName).With("instance", id, "mode", string(mode)),
		warns:      rate.NewLimiter(rate.Every(time.Second), 10),
		core:       deps.CoreMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if mode == config.ModeProxy {
		return c, nil
	}

	if channels.Commands == nil {
		return nil, errors.WrapFatal(errors.ErrMissingChannel, "Controller", "New", "command channel required")
	}

	strategy, err := smoother.ParseStrategy(cfg.Smoothing.Strategy)
	if err != nil {
		return nil, errors.WrapFatal(err, "Controller", "New", "select strategy")
	}

	c.transformer, err = facssmooth.New(facssmooth.Config{
		Strategy:            strategy,
		ConfidenceThreshold: cfg.Smoothing.ConfidenceThreshold,
		SynthesizedPrefix:   cfg.Smoothing.SynthesizedPrefix,
		PerTopicHistory:     cfg.Smoothing.PerTopicHistory,
		ActionUnits:         cfg.Smoothing.ActionUnits.Params(),
		Pose:                cfg.Smoothing.Pose.Params(),
	}, channels.Inbound, channels.Outbound, c.multiplier, deps)
	if err != nil {
		return nil, err
	}

	c.router, err = paramrouter.New(paramrouter.Config{
		CommandPrefix: cfg.Smoothing.CommandPrefix,
		StoreTimeout:  cfg.Params.Timeout.Std(),
	}, channels.Commands, c.multiplier, c.store, deps)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// ID returns the instance id.
func (c *Controller) ID() string { return c.id }

// Mode returns the mode fixed at construction.
func (c *Controller) Mode() config.Mode { return c.mode }

// Multiplier returns the multiplier cell shared by the transformer and router.
func (c *Controller) Multiplier() *smoother.Multiplier { return c.multiplier }

// Transformer returns the function-mode transformer, nil in proxy mode.
func (c *Controller) Transformer() *facssmooth.Transformer { return c.transformer }

// Router returns the function-mode parameter router, nil in proxy mode.
func (c *Controller) Router() *paramrouter.Router { return c.router }

// Run blocks until ctx is cancelled or the inbound channel closes. In
// function mode it also waits for the command loop.
func (c *Controller) Run(ctx context.Context) (err error) {
	if !c.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Controller", "Run", "check running state")
	}
	defer c.running.Store(false)

	c.flow.Start()
	c.core.RecordComponentState(componentName, int(component.StateRunning))
	defer func() {
		c.core.RecordComponentState(componentName, int(component.Exit(err)))
	}()

	c.logger.Info("Relay started")
	defer c.logger.Info("Relay stopped")

	if c.mode == config.ModeProxy {
		return c.proxy(ctx)
	}
	return c.function(ctx)
}

// proxy forwards every inbound message verbatim.
func (c *Controller) proxy(ctx context.Context) error {
	for {
		msg, err := c.channels.Inbound.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errors.ErrChannelClosed) {
				return nil
			}
			if errors.IsFatal(err) {
				return err
			}
			c.fail(err, "Skipping undecodable message")
			continue
		}

		c.flow.Message(msg.Size())
		c.core.RecordMessageReceived(componentName, "inbound")

		if err := c.channels.Outbound.Send(ctx, msg); err != nil {
			c.fail(err, "Failed to forward message", "topic", string(msg.Topic()))
			continue
		}
		c.forwarded.Add(1)
		c.core.RecordMessagePublished(componentName)
	}
}

// function restores the persisted multiplier, then runs the transform and
// command loops side by side.
func (c *Controller) function(ctx context.Context) error {
	if restored, err := c.router.Restore(ctx); err != nil {
		c.logger.Warn("Failed to restore multiplier, starting with identity", "error", err)
	} else if restored {
		c.logger.Info("Multiplier restored", "multiplier", c.multiplier.Load())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.transformer.Run(gctx)
	})
	g.Go(func() error {
		return c.router.Run(gctx)
	})
	return g.Wait()
}

func (c *Controller) fail(err error, msg string, args ...any) {
	c.flow.Error(err)
	c.core.RecordError(componentName, errors.Label(err))
	args = append(args, "error", err)
	if c.warns.Allow() {
		c.logger.Warn(msg, args...)
		return
	}
	c.logger.Debug(msg, args...)
}

// Forwarded returns the number of messages forwarded in proxy mode.
func (c *Controller) Forwarded() int64 { return c.forwarded.Load() }

// Components returns the running components, the controller first.
func (c *Controller) Components() []component.Discoverable {
	out := []component.Discoverable{c}
	if c.transformer != nil {
		out = append(out, c.transformer)
	}
	if c.router != nil {
		out = append(out, c.router)
	}
	return out
}

// Status reports every component for the status endpoint.
func (c *Controller) Status() []component.Report {
	return component.DescribeAll(c.Components())
}

// Healthy reports whether the relay and every loop of its mode are running.
func (c *Controller) Healthy() bool {
	return c.Health().Healthy
}

// Meta returns metadata describing the controller.
func (c *Controller) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "controller",
		Description: "N-proxy-M relay in " + string(c.mode) + " mode",
		Version:     "0.1.0",
	}
}

// Health aggregates the health of the mode's loops.
func (c *Controller) Health() component.HealthStatus {
	h := c.flow.Health(c.running.Load())
	if c.mode == config.ModeProxy {
		return h
	}

	for _, sub := range []component.Discoverable{c.transformer, c.router} {
		sh := sub.Health()
		h.Healthy = h.Healthy && sh.Healthy
		h.ErrorCount += sh.ErrorCount
		if sh.LastError != "" {
			h.LastError = sh.LastError
		}
	}
	return h
}

// DataFlow reports the inbound flow: forwarded traffic in proxy mode, the
// transformer's traffic in function mode.
func (c *Controller) DataFlow() component.FlowMetrics {
	if c.transformer != nil {
		return c.transformer.DataFlow()
	}
	return c.flow.Flow()
}

var _ component.Runner = (*Controller)(nil)
