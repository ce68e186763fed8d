package paramrouter

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/component"
	"github.com/c360/smoothbus/errors"
	"github.com/c360/smoothbus/metric"
	"github.com/c360/smoothbus/natsclient"
	"github.com/c360/smoothbus/smoother"
)

type memStore struct {
	mu      sync.Mutex
	values  []float64
	ok      bool
	loadErr error
	saveErr error
	saves   int
	loads   int
	// flaky fails this many loads with a transient error before succeeding.
	flaky int
}

func (m *memStore) Load(context.Context) ([]float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loads <= m.flaky {
		return nil, false, errors.WrapTransient(stderrors.New("no responders"), "test", "Load", "get")
	}
	return m.values, m.ok, m.loadErr
}

func (m *memStore) Save(_ context.Context, values []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.values, m.ok = values, true
	return nil
}

func command(sender, topic, data string) bus.Message {
	return bus.NewMessage([]byte(sender), []byte(topic), []byte(data))
}

func newRouter(t *testing.T, store MultiplierStore) (*Router, *smoother.Multiplier) {
	t.Helper()
	mult := smoother.NewMultiplier(nil)
	r, err := New(DefaultConfig(), bus.NewPipe(8), mult, store, component.Dependencies{})
	require.NoError(t, err)
	return r, mult
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil, smoother.NewMultiplier(nil), nil, component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrMissingChannel)
	assert.True(t, errors.IsFatal(err))

	_, err = New(DefaultConfig(), bus.NewPipe(1), nil, nil, component.Dependencies{})
	assert.True(t, errors.IsFatal(err))

	r, err := New(Config{}, bus.NewPipe(1), smoother.NewMultiplier(nil), nil, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "multiplier", r.cfg.CommandPrefix)
}

func TestHandle_InstallsMultiplier(t *testing.T) {
	r, mult := newRouter(t, nil)

	applied, err := r.Handle(context.Background(), command("client1", "multiplier", "[1.5]"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []float64{1.5}, mult.Load())

	applied, err = r.Handle(context.Background(), command("client1", "multiplier.au", " [1, 2, 0.5] "))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []float64{1, 2, 0.5}, mult.Load(), "replace, not merge")

	_, err = r.Handle(context.Background(), command("client1", "multiplier", "[]"))
	require.NoError(t, err)
	assert.Nil(t, mult.Load(), "empty array resets to identity")
	assert.Equal(t, int64(3), r.Stats().Applied)
}

func TestHandle_IgnoresOtherTopics(t *testing.T) {
	r, mult := newRouter(t, nil)
	mult.Store([]float64{2})

	applied, err := r.Handle(context.Background(), command("client1", "threshold", "[9]"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, []float64{2}, mult.Load())
	assert.Equal(t, int64(1), r.Stats().Ignored)
}

func TestHandle_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.Message
	}{
		{"two parts", bus.NewMessage([]byte("c"), []byte("multiplier"))},
		{"four parts", bus.NewMessage([]byte("c"), []byte("multiplier"), []byte("[1]"), []byte("x"))},
		{"object", command("c", "multiplier", `{"a": 1}`)},
		{"strings", command("c", "multiplier", `["1"]`)},
		{"null", command("c", "multiplier", `null`)},
		{"scalar", command("c", "multiplier", `1.5`)},
		{"truncated", command("c", "multiplier", `[1,`)},
		{"empty", command("c", "multiplier", ``)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mult := newRouter(t, nil)
			mult.Store([]float64{3})

			applied, err := r.Handle(context.Background(), tt.msg)
			require.Error(t, err)
			assert.False(t, applied)
			assert.ErrorIs(t, err, errors.ErrMalformedCommand)
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, []float64{3}, mult.Load(), "malformed commands leave the multiplier alone")
		})
	}
}

func TestHandle_PersistsInstalledVector(t *testing.T) {
	store := &memStore{}
	r, _ := newRouter(t, store)

	_, err := r.Handle(context.Background(), command("c", "multiplier", "[0.5, 2]"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 2}, store.values)

	store.saveErr = stderrors.New("kv unavailable")
	applied, err := r.Handle(context.Background(), command("c", "multiplier", "[4]"))
	require.NoError(t, err, "persistence failures do not reject the command")
	assert.True(t, applied)
	assert.Equal(t, 2, store.saves)
}

func TestRestore(t *testing.T) {
	r, mult := newRouter(t, &memStore{values: []float64{1.25}, ok: true})
	restored, err := r.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, []float64{1.25}, mult.Load())

	r, mult = newRouter(t, &memStore{})
	restored, err = r.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Nil(t, mult.Load())

	r, _ = newRouter(t, &memStore{loadErr: errors.WrapTransient(stderrors.New("timeout"), "test", "Load", "get")})
	_, err = r.Restore(context.Background())
	assert.True(t, errors.IsTransient(err))

	flaky := &memStore{values: []float64{2}, ok: true, flaky: 1}
	r, mult = newRouter(t, flaky)
	restored, err = r.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, restored, "a transient load failure is retried")
	assert.Equal(t, 2, flaky.loads)
	assert.Equal(t, []float64{2}, mult.Load())

	corrupt := &memStore{loadErr: errors.WrapInvalid(stderrors.New("bad json"), "test", "Load", "decode")}
	r, _ = newRouter(t, corrupt)
	_, err = r.Restore(context.Background())
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, 1, corrupt.loads, "invalid data is not retried")

	r, _ = newRouter(t, nil)
	restored, err = r.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestRun_ProcessesUntilClosed(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	in := bus.NewPipe(8)
	mult := smoother.NewMultiplier(nil)
	r, err := New(DefaultConfig(), in, mult, nil, component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, in.Send(ctx, command("gui", "multiplier", "[not json")))
	require.NoError(t, in.Send(ctx, command("gui", "volume", "[1]")))
	require.NoError(t, in.Send(ctx, command("gui", "multiplier", "[2, 3]")))
	require.NoError(t, in.Close())

	require.NoError(t, r.Run(ctx))

	assert.Equal(t, Stats{Received: 3, Applied: 1, Ignored: 1, Malformed: 1}, r.Stats())
	assert.Equal(t, []float64{2, 3}, mult.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.commands.WithLabelValues(outcomeApplied)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.multiplierLen))
	assert.Equal(t, 1, r.Health().ErrorCount)
}

func TestRun_StopsOnCancel(t *testing.T) {
	r, _ := newRouter(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.Health().Healthy }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Run(ctx), errors.ErrAlreadyStarted)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type fakeKV struct {
	entries map[string][]byte
	getErr  error
	putErr  error
}

func (f *fakeKV) Get(_ context.Context, key string) (*natsclient.KVEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.entries[key]
	if !ok {
		return nil, natsclient.ErrKVKeyNotFound
	}
	return &natsclient.KVEntry{Key: key, Value: v, Revision: 1}, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if f.putErr != nil {
		return 0, f.putErr
	}
	f.entries[key] = value
	return 1, nil
}

func TestKVMultiplierStore(t *testing.T) {
	kv := &fakeKV{entries: map[string][]byte{}}
	store := NewKVMultiplierStore(kv)
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, []float64{1.5, 2}))
	assert.JSONEq(t, `[1.5, 2]`, string(kv.entries[MultiplierKey]))

	values, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{1.5, 2}, values)

	require.NoError(t, store.Save(ctx, nil))
	assert.Equal(t, "[]", string(kv.entries[MultiplierKey]))

	kv.entries[MultiplierKey] = []byte("garbage")
	_, _, err = store.Load(ctx)
	assert.True(t, errors.IsInvalid(err))

	kv.getErr = stderrors.New("nats: timeout")
	_, _, err = store.Load(ctx)
	assert.True(t, errors.IsTransient(err))

	kv.putErr = stderrors.New("nats: timeout")
	assert.True(t, errors.IsTransient(store.Save(ctx, []float64{1})))
}
