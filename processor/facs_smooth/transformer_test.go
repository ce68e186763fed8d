package facssmooth

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/component"
	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/metric"
	"github.com/c360/smoothbus/smoother"
)

func newTransformer(t *testing.T, cfg Config, mult *smoother.Multiplier) (*Transformer, *bus.Pipe, *bus.Pipe) {
	t.Helper()
	in := bus.NewPipe(16)
	out := bus.NewPipe(16)
	tr, err := New(cfg, in, out, mult, component.Dependencies{})
	require.NoError(t, err)
	return tr, in, out
}

func dataMsg(topic, frame, payload string) bus.Message {
	return bus.NewMessage([]byte(topic), []byte(frame), []byte(payload))
}

func decodeOut(t *testing.T, msg bus.Message) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload(), &out))
	return out
}

func floats(t *testing.T, raw json.RawMessage) map[string]float64 {
	t.Helper()
	var out map[string]float64
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestNew_RequiresChannels(t *testing.T) {
	_, err := New(DefaultConfig(), nil, bus.NewPipe(1), nil, component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrMissingChannel)
	assert.True(t, errors.IsFatal(err))

	_, err = New(DefaultConfig(), bus.NewPipe(1), nil, nil, component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrMissingChannel)
}

func TestProcess_EmptyFrameForwardsTerminalMarker(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	msg := bus.NewMessage([]byte("openface"), []byte{}, []byte("not json at all"), []byte("extra"))
	out, outcome, err := tr.Process(msg)
	require.NoError(t, err)
	assert.Equal(t, outcomeTerminal, outcome)
	assert.Equal(t, [][]byte{[]byte("openface"), {}, {}}, out.Parts)

	out, _, err = tr.Process(bus.NewMessage([]byte("openface"), nil))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())
	assert.True(t, out.IsTerminal())
}

func TestProcess_LowConfidenceIsDropped(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	_, outcome, err := tr.Process(dataMsg("openface", "1", `{"confidence": 0.79, "au_r": {"AU01": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, outcomeDropped, outcome)
	assert.Equal(t, 0, tr.Smoother().Streams(), "dropped messages must not reach the windows")

	_, outcome, err = tr.Process(dataMsg("openface", "2", `{"confidence": 0.8, "au_r": {"AU01": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, outcomeSmoothed, outcome)

	_, outcome, err = tr.Process(dataMsg("openface", "3", `{"au_r": {"AU01": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, outcomeSmoothed, outcome, "missing confidence is not low confidence")
}

func TestProcess_OtherKeysKeepTheirBytesAndOrder(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	in := `{"timestamp": 1.500, "confidence": 0.95, "au_r": {"AU02": 1, "AU01": 2}, ` +
		`"gaze": {"x": 1e-3, "tags": ["a", "b"]}, "frame_id": 12345678901234567890}`
	out, outcome, err := tr.Process(dataMsg("openface", "7", in))
	require.NoError(t, err)
	require.Equal(t, outcomeSmoothed, outcome)

	payload := out.Payload()
	assert.Contains(t, string(payload), `"timestamp":1.500`)
	assert.Contains(t, string(payload), `"confidence":0.95`)
	assert.Contains(t, string(payload), `"gaze":{"x": 1e-3, "tags": ["a", "b"]}`)
	assert.Contains(t, string(payload), `"frame_id":12345678901234567890`)

	order := []string{`"timestamp"`, `"confidence"`, `"au_r"`, `"gaze"`, `"frame_id"`}
	last := -1
	for _, key := range order {
		idx := bytes.Index(payload, []byte(key))
		require.Greater(t, idx, last, key)
		last = idx
	}

	assert.Equal(t, map[string]float64{"AU01": 2, "AU02": 1}, floats(t, decodeOut(t, out)["au_r"]))
}

func TestProcess_SynthesizedTopicIsForwardedUnchanged(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), smoother.NewMultiplier([]float64{5}))

	payload := `{ "au_r" : {"AU01": 2.0},  "pose": {"x": 1} }`
	msg := bus.NewMessage([]byte("facsvatar.unity"), []byte("3"), []byte(payload), []byte("tail"))

	out, outcome, err := tr.Process(msg)
	require.NoError(t, err)
	assert.Equal(t, outcomeSynthesized, outcome)
	assert.Equal(t, msg.Parts, out.Parts)
	assert.Equal(t, 0, tr.Smoother().Streams())
}

func TestProcess_SynthesizedCheckComesAfterConfidence(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	_, outcome, err := tr.Process(dataMsg("facsvatar", "1", `{"confidence": 0.1}`))
	require.NoError(t, err)
	assert.Equal(t, outcomeDropped, outcome)
}

func TestProcess_MultiplierCommandScenario(t *testing.T) {
	mult := smoother.NewMultiplier(nil)
	tr, _, _ := newTransformer(t, DefaultConfig(), mult)

	mult.Store([]float64{1.5})

	out, _, err := tr.Process(dataMsg("openface", "1", `{"au_r": {"AU01": 2.0}}`))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, floats(t, decodeOut(t, out)["au_r"])["AU01"], 1e-12)
}

func TestProcess_PoseIgnoresMultiplierByDefault(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), smoother.NewMultiplier([]float64{2}))

	out, _, err := tr.Process(dataMsg("openface", "1", `{"au_r": {"AU01": 1}, "pose": {"x": 1, "y": 2}}`))
	require.NoError(t, err)

	body := decodeOut(t, out)
	assert.Equal(t, 2.0, floats(t, body["au_r"])["AU01"])
	assert.Equal(t, map[string]float64{"x": 1, "y": 2}, floats(t, body["pose"]))
}

func TestProcess_PoseRamp(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	prev := -1.0
	for i, raw := range []float64{0, 1, 2, 3, 4} {
		payload, err := json.Marshal(map[string]any{"pose": map[string]float64{"x": raw}})
		require.NoError(t, err)

		out, _, err := tr.Process(dataMsg("openface", "1", string(payload)))
		require.NoError(t, err)

		x := floats(t, decodeOut(t, out)["pose"])["x"]
		assert.GreaterOrEqual(t, x, prev, "step %d", i)
		assert.LessOrEqual(t, x, raw, "step %d", i)
		prev = x
	}
}

func TestProcess_StreamsAreIndependent(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	_, _, err := tr.Process(dataMsg("openface", "1", `{"pose": {"x": 10}}`))
	require.NoError(t, err)

	out, _, err := tr.Process(dataMsg("openface", "2", `{"au_r": {"AU01": 0.5}}`))
	require.NoError(t, err)
	body := decodeOut(t, out)
	assert.Equal(t, 0.5, floats(t, body["au_r"])["AU01"])
	_, hasPose := body["pose"]
	assert.False(t, hasPose)
}

func TestProcess_PerTopicHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerTopicHistory = true
	tr, _, _ := newTransformer(t, cfg, nil)

	_, _, err := tr.Process(dataMsg("alice", "1", `{"pose": {"x": 100}}`))
	require.NoError(t, err)
	out, _, err := tr.Process(dataMsg("bob", "1", `{"pose": {"x": 1}}`))
	require.NoError(t, err)

	assert.Equal(t, 1.0, floats(t, decodeOut(t, out)["pose"])["x"])
	assert.Equal(t, 2, tr.Smoother().Streams())
}

func TestProcess_ExtraPartIsForwardedVerbatim(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	extra := []byte{0x00, 0x01, 0xfe}
	out, _, err := tr.Process(bus.NewMessage([]byte("openface"), []byte("9"), []byte(`{}`), extra))
	require.NoError(t, err)

	got, ok := out.Extra()
	require.True(t, ok)
	assert.Equal(t, extra, got)
	assert.Equal(t, "9", string(out.Frame()))
	assert.Equal(t, "{}", string(out.Payload()))
}

func TestProcess_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.Message
		want error
	}{
		{"one part", bus.NewMessage([]byte("openface")), errors.ErrMalformedMessage},
		{"no payload part", bus.NewMessage([]byte("openface"), []byte("1")), errors.ErrMalformedMessage},
		{"not json", dataMsg("openface", "1", `{au_r}`), errors.ErrMalformedPayload},
		{"array payload", dataMsg("openface", "1", `[1, 2]`), errors.ErrMalformedPayload},
		{"trailing data", dataMsg("openface", "1", `{} {}`), errors.ErrMalformedPayload},
		{"empty payload", dataMsg("openface", "1", ``), errors.ErrMalformedPayload},
		{"string confidence", dataMsg("openface", "1", `{"confidence": "0.9"}`), errors.ErrMalformedPayload},
		{"au_r not object", dataMsg("openface", "1", `{"au_r": [1, 2]}`), errors.ErrMalformedPayload},
		{"au_r string value", dataMsg("openface", "1", `{"au_r": {"AU01": "high"}}`), errors.ErrMalformedPayload},
		{"pose null value", dataMsg("openface", "1", `{"pose": {"x": null}}`), errors.ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, _ := newTransformer(t, DefaultConfig(), nil)

			_, outcome, err := tr.Process(tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, outcomeMalformed, outcome)
		})
	}
}

func TestProcess_MalformedMappingLeavesWindowsUntouched(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	_, _, err := tr.Process(dataMsg("openface", "1", `{"au_r": {"AU01": "x"}, "pose": {"x": 1}}`))
	require.Error(t, err)
	assert.Equal(t, 0, tr.Smoother().Streams())
}

func TestProcess_OverflowDoesNotPoisonLaterMessages(t *testing.T) {
	mult := smoother.NewMultiplier([]float64{1e308})
	tr, _, _ := newTransformer(t, DefaultConfig(), mult)
	msg := dataMsg("openface", "1", `{"au_r": {"AU01": 2}}`)

	_, outcome, err := tr.Process(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidSample)
	assert.Equal(t, outcomeMalformed, outcome)

	mult.Store(nil)
	for i := 0; i < 5; i++ {
		out, outcome, err := tr.Process(msg)
		require.NoError(t, err, "message %d", i)
		assert.Equal(t, outcomeSmoothed, outcome)
		assert.InDelta(t, 2.0, floats(t, decodeOut(t, out)["au_r"])["AU01"], 1e-12)
	}
}

func TestProcess_FailingPoseLeavesActionUnitsUntouched(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pose.ApplyMultiplier = true
	tr, _, _ := newTransformer(t, cfg, smoother.NewMultiplier([]float64{1, 1}))

	_, _, err := tr.Process(dataMsg("openface", "1", `{"au_r": {"AU01": 1, "AU02": 2}, "pose": {"x": 1, "y": 2, "z": 3}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMultiplierShape)
	assert.Equal(t, 0, tr.Smoother().Streams())
	assert.Nil(t, tr.Smoother().History(smoother.StreamKey{Stream: smoother.ActionUnits}))
}

func TestProcess_MultiplierShapeMismatch(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), smoother.NewMultiplier([]float64{1, 2, 3}))

	_, _, err := tr.Process(dataMsg("openface", "1", `{"au_r": {"AU01": 1, "AU02": 2}}`))
	assert.ErrorIs(t, err, errors.ErrMultiplierShape)
	assert.True(t, errors.IsInvalid(err))
}

func TestRun_LoopSurvivesBadMessages(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	in := bus.NewPipe(16)
	out := bus.NewPipe(16)
	tr, err := New(DefaultConfig(), in, out, nil, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)

	ctx := context.Background()
	inputs := []bus.Message{
		dataMsg("openface", "1", `{"confidence": 0.9, "au_r": {"AU01": 1}}`),
		dataMsg("openface", "2", `garbage`),
		dataMsg("openface", "3", `{"confidence": 0.2}`),
		dataMsg("facsvatar.unity", "4", `{"au_r": {"AU01": 9}}`),
		bus.Terminal([]byte("openface")),
	}
	for _, msg := range inputs {
		require.NoError(t, in.Send(ctx, msg))
	}
	require.NoError(t, in.Close())

	require.NoError(t, tr.Run(ctx))

	assert.Equal(t, Stats{Received: 5, Smoothed: 1, Synthesized: 1, Terminal: 1, Dropped: 1, Malformed: 1}, tr.Stats())
	assert.Equal(t, 3, out.Len())

	first, err := out.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", string(first.Frame()))

	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.messages.WithLabelValues(outcomeDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.messages.WithLabelValues(outcomeMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().ErrorsTotal.WithLabelValues(componentName, "invalid")))
	assert.Equal(t, 3.0, testutil.ToFloat64(registry.CoreMetrics().MessagesPublished.WithLabelValues(componentName)))

	health := tr.Health()
	assert.False(t, health.Healthy)
	assert.Equal(t, 1, health.ErrorCount)
	assert.NotEmpty(t, health.LastError)
}

func TestRun_PublishFailureIsCounted(t *testing.T) {
	tr, in, out := newTransformer(t, DefaultConfig(), nil)
	require.NoError(t, out.Close())

	ctx := context.Background()
	require.NoError(t, in.Send(ctx, dataMsg("openface", "1", `{"pose": {"x": 1}}`)))
	require.NoError(t, in.Send(ctx, dataMsg("openface", "2", `{"pose": {"x": 2}}`)))
	require.NoError(t, in.Close())

	require.NoError(t, tr.Run(ctx))
	assert.Equal(t, int64(2), tr.Stats().Failed)
	assert.Equal(t, int64(0), tr.Stats().Smoothed)
}

func TestRun_StopsOnCancelAndRejectsSecondRun(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool { return tr.Health().Healthy }, time.Second, 5*time.Millisecond)

	err := tr.Run(ctx)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, tr.Health().Healthy)
}

func TestTransformer_Meta(t *testing.T) {
	tr, _, _ := newTransformer(t, DefaultConfig(), nil)
	meta := tr.Meta()
	assert.Equal(t, componentName, meta.Name)
	assert.Equal(t, "processor", meta.Type)
	assert.Zero(t, tr.DataFlow().MessagesPerSecond)
}
