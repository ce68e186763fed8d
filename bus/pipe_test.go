package bus

import (
	"context"
	"testing"
	"time"

	"github.com/c360/smoothbus/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(8)

	for _, frame := range []string{"1", "2", "3"} {
		require.NoError(t, p.Send(ctx, NewMessage([]byte("t"), []byte(frame), []byte("{}"))))
	}
	assert.Equal(t, 3, p.Len())

	for _, want := range []string{"1", "2", "3"} {
		msg, err := p.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(msg.Frame()))
	}
}

func TestPipe_CloseDrainsThenReportsClosed(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(4)

	require.NoError(t, p.Send(ctx, Terminal([]byte("t"))))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Send(ctx, Terminal([]byte("t")))
	assert.ErrorIs(t, err, errors.ErrChannelClosed)

	msg, err := p.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, msg.IsTerminal())

	_, err = p.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrChannelClosed)
}

func TestPipe_ReceiveHonoursContext(t *testing.T) {
	p := NewPipe(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipe_CloseUnblocksFullSend(t *testing.T) {
	ctx := context.Background()
	p := NewPipe(1)
	require.NoError(t, p.Send(ctx, Terminal([]byte("a"))))

	done := make(chan error, 1)
	go func() {
		done <- p.Send(ctx, Terminal([]byte("b")))
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("send did not return after close")
	}
}
