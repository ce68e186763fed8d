package facssmooth

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/component"
	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/metric"
	"github.com/c360/smoothbus/smoother"
)

const componentName = "facs-smooth-transformer"

// Config holds the classification thresholds and stream settings.
type Config struct {
	Strategy            smoother.Strategy
	ConfidenceThreshold float64
	// SynthesizedPrefix marks topics whose payloads are already smoothed.
	// Empty disables the check.
	SynthesizedPrefix string
	PerTopicHistory   bool
	ActionUnits       smoother.Params
	Pose              smoother.Params
}

// DefaultConfig returns the default transformer configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:            smoother.TrailingMovingAverage,
		ConfidenceThreshold: 0.8,
		SynthesizedPrefix:   "facsvatar",
		ActionUnits:         smoother.Params{WindowSize: 4, Steep: 0.35, ApplyMultiplier: true},
		Pose:                smoother.Params{WindowSize: 4, Steep: 0.2},
	}
}

// Stats is a snapshot of the transformer counters.
type Stats struct {
	Received    int64
	Smoothed    int64
	Synthesized int64
	Terminal    int64
	Dropped     int64
	Malformed   int64
	Failed      int64
}

// Transformer classifies inbound messages and re-publishes them with the
// action-unit and pose mappings smoothed.
type Transformer struct {
	name     string
	cfg      Config
	in       bus.Receiver
	out      bus.Sender
	smoother *smoother.Smoother
	logger   *slog.Logger
	warns    *rate.Limiter

	running atomic.Bool
	flow    component.FlowCounter

	received    atomic.Int64
	smoothed    atomic.Int64
	synthesized atomic.Int64
	terminal    atomic.Int64
	dropped     atomic.Int64
	malformed   atomic.Int64
	failed      atomic.Int64

	metrics *transformMetrics
	core    *metric.Metrics
}

// New creates a transformer reading from in and writing to out. The
// multiplier is shared with the parameter router; nil means identity.
func New(
	cfg Config, in bus.Receiver, out bus.Sender, multiplier *smoother.Multiplier, deps component.Dependencies,
) (*Transformer, error) {
	if in == nil {
		return nil, errors.WrapFatal(errors.ErrMissingChannel, "Transformer", "New", "inbound channel required")
	}
	if out == nil {
		return nil, errors.WrapFatal(errors.ErrMissingChannel, "Transformer", "New", "outbound channel required")
	}

	logger := deps.GetLoggerWithComponent(componentName)

	metrics, err := newTransformMetrics(deps.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize transformer metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	t := &Transformer{
		name:    componentName,
		cfg:     cfg,
		in:      in,
		out:     out,
		logger:  logger,
		warns:   rate.NewLimiter(rate.Every(time.Second), 10),
		metrics: metrics,
		core:    deps.CoreMetrics(),
	}
	t.smoother = smoother.New(cfg.Strategy, multiplier,
		smoother.WithLogger(logger),
		smoother.WithResetHook(func(key smoother.StreamKey) {
			t.metrics.recordReset(key.Stream.String())
		}),
	)
	return t, nil
}

// Smoother returns the smoother holding the stream histories.
func (t *Transformer) Smoother() *smoother.Smoother {
	return t.smoother
}

// Run handles inbound messages until ctx is cancelled or the inbound channel
// closes. Per-message failures are logged and counted; they never end the loop.
func (t *Transformer) Run(ctx context.Context) (err error) {
	if !t.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Transformer", "Run", "check running state")
	}
	defer t.running.Store(false)

	t.flow.Start()
	t.core.RecordComponentState(t.name, int(component.StateRunning))
	t.core.RecordHealthStatus(t.name, true)
	defer func() {
		t.core.RecordComponentState(t.name, int(component.Exit(err)))
		t.core.RecordHealthStatus(t.name, false)
	}()

	t.logger.Info("Transformer started",
		"strategy", t.cfg.Strategy.String(),
		"confidence_threshold", t.cfg.ConfidenceThreshold,
		"per_topic_history", t.cfg.PerTopicHistory)

	for {
		msg, err := t.in.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errors.ErrChannelClosed) {
				t.logger.Info("Transformer stopped", "received", t.received.Load())
				return nil
			}
			if errors.IsFatal(err) {
				return err
			}
			t.received.Add(1)
			t.reject(err, nil)
			continue
		}
		t.handle(ctx, msg)
	}
}

func (t *Transformer) handle(ctx context.Context, msg bus.Message) {
	start := time.Now()
	t.received.Add(1)
	t.flow.Message(msg.Size())
	t.core.RecordMessageReceived(t.name, "inbound")

	out, outcome, err := t.Process(msg)
	t.core.RecordProcessingDuration(t.name, "process", time.Since(start))
	if err != nil {
		t.reject(err, &msg)
		return
	}

	if outcome == outcomeDropped {
		t.dropped.Add(1)
		t.metrics.recordOutcome(outcome, t.smoother.Streams())
		return
	}

	if err := t.out.Send(ctx, out); err != nil {
		t.failed.Add(1)
		t.flow.Error(err)
		t.metrics.recordOutcome(outcomeFailed, t.smoother.Streams())
		t.core.RecordError(t.name, errors.Label(err))
		t.warn("Failed to publish message", "topic", string(out.Topic()), "error", err)
		return
	}

	switch outcome {
	case outcomeSmoothed:
		t.smoothed.Add(1)
	case outcomeSynthesized:
		t.synthesized.Add(1)
	case outcomeTerminal:
		t.terminal.Add(1)
		t.logger.Debug("Forwarded end of stream", "topic", string(out.Topic()))
	}
	t.metrics.recordOutcome(outcome, t.smoother.Streams())
	t.core.RecordMessagePublished(t.name)
}

// reject records a message that could not be handled.
func (t *Transformer) reject(err error, msg *bus.Message) {
	t.malformed.Add(1)
	t.flow.Error(err)
	t.metrics.recordOutcome(outcomeMalformed, t.smoother.Streams())
	t.core.RecordError(t.name, errors.Label(err))

	if msg != nil {
		t.warn("Skipping message", "message", msg.String(), "error", err)
		return
	}
	t.warn("Skipping undecodable message", "error", err)
}

// warn logs at warning level while the limiter allows it, at debug level otherwise.
func (t *Transformer) warn(msg string, args ...any) {
	if t.warns.Allow() {
		t.logger.Warn(msg, args...)
		return
	}
	t.metrics.recordSuppressed()
	t.logger.Debug(msg, args...)
}

// Process classifies one message and returns what to publish. A dropped
// message yields the "dropped" outcome and no error; malformed input and
// smoothing failures yield invalid-class errors.
func (t *Transformer) Process(msg bus.Message) (bus.Message, string, error) {
	if msg.Len() < 2 {
		return bus.Message{}, outcomeMalformed, errors.WrapInvalid(
			errors.ErrMalformedMessage, "Transformer", "Process", "check part count")
	}

	topic := msg.Topic()
	if msg.IsTerminal() {
		return bus.Terminal(topic), outcomeTerminal, nil
	}
	if msg.Len() < 3 {
		return bus.Message{}, outcomeMalformed, errors.WrapInvalid(
			errors.ErrMalformedMessage, "Transformer", "Process", "check payload part")
	}

	p, err := parsePayload(msg.Payload())
	if err != nil {
		return bus.Message{}, outcomeMalformed, errors.WrapInvalid(err, "Transformer", "Process", "parse payload")
	}

	confidence, ok, err := p.confidence()
	if err != nil {
		return bus.Message{}, outcomeMalformed, errors.WrapInvalid(err, "Transformer", "Process", "read confidence")
	}
	if ok && confidence < t.cfg.ConfidenceThreshold {
		return bus.Message{}, outcomeDropped, nil
	}

	if t.cfg.SynthesizedPrefix != "" && strings.HasPrefix(string(topic), t.cfg.SynthesizedPrefix) {
		return msg, outcomeSynthesized, nil
	}

	historyTopic := ""
	if t.cfg.PerTopicHistory {
		historyTopic = string(topic)
	}

	streams := []struct {
		key    string
		id     smoother.StreamID
		params smoother.Params
	}{
		{keyActionUnits, smoother.ActionUnits, t.cfg.ActionUnits},
		{keyPose, smoother.Pose, t.cfg.Pose},
	}

	// Decode both mappings before smoothing so a malformed one leaves every window untouched.
	samples := make([]map[string]float64, len(streams))
	for i, s := range streams {
		values, present, err := p.numbers(s.key)
		if err != nil {
			return bus.Message{}, outcomeMalformed, errors.WrapInvalid(err, "Transformer", "Process", "read "+s.key)
		}
		if present {
			samples[i] = values
		}
	}

	// Check both samples against the multiplier so a failing pose does not
	// advance the action-unit window of a dropped message.
	for i, s := range streams {
		if samples[i] == nil {
			continue
		}
		if err := t.smoother.Check(samples[i], s.params); err != nil {
			return bus.Message{}, outcomeMalformed, errors.WrapInvalid(err, "Transformer", "Process", "smooth "+s.key)
		}
	}

	for i, s := range streams {
		if samples[i] == nil {
			continue
		}
		key := smoother.StreamKey{Topic: historyTopic, Stream: s.id}
		smoothed, err := t.smoother.Smooth(key, samples[i], s.params)
		if err != nil {
			return bus.Message{}, outcomeMalformed, errors.WrapInvalid(err, "Transformer", "Process", "smooth "+s.key)
		}
		if err := p.replace(s.key, smoothed); err != nil {
			return bus.Message{}, outcomeMalformed, errors.WrapInvalid(err, "Transformer", "Process", "encode "+s.key)
		}
	}

	encoded, err := p.encode()
	if err != nil {
		return bus.Message{}, outcomeMalformed, errors.WrapInvalid(err, "Transformer", "Process", "encode payload")
	}

	parts := make([][]byte, 0, msg.Len())
	parts = append(parts, topic, msg.Frame(), encoded)
	parts = append(parts, msg.Parts[bus.PartExtra:]...)
	return bus.NewMessage(parts...), outcomeSmoothed, nil
}

// Stats returns a snapshot of the counters.
func (t *Transformer) Stats() Stats {
	return Stats{
		Received:    t.received.Load(),
		Smoothed:    t.smoothed.Load(),
		Synthesized: t.synthesized.Load(),
		Terminal:    t.terminal.Load(),
		Dropped:     t.dropped.Load(),
		Malformed:   t.malformed.Load(),
		Failed:      t.failed.Load(),
	}
}

// Meta returns metadata describing this processor component.
func (t *Transformer) Meta() component.Metadata {
	return component.Metadata{
		Name:        t.name,
		Type:        "processor",
		Description: "Classifies relay messages and smooths action-unit and pose values",
		Version:     "0.1.0",
	}
}

// Health returns the current health status of this processor.
func (t *Transformer) Health() component.HealthStatus {
	return t.flow.Health(t.running.Load())
}

// DataFlow returns current data flow metrics for this processor.
func (t *Transformer) DataFlow() component.FlowMetrics {
	return t.flow.Flow()
}

var _ component.Runner = (*Transformer)(nil)
