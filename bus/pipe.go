package bus

import (
	"context"
	"sync"

	"github.com/c360/smoothbus/errors"
)

// DefaultPipeCapacity is the buffer size used when NewPipe is given zero.
const DefaultPipeCapacity = 256

// Pipe is an in-memory channel implementing both Sender and Receiver.
// Messages are delivered in send order. After Close, buffered messages can still
// be received; further sends fail with ErrChannelClosed.
type Pipe struct {
	ch     chan Message
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

// NewPipe creates a pipe buffering up to capacity messages.
func NewPipe(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultPipeCapacity
	}
	return &Pipe{
		ch:     make(chan Message, capacity),
		closed: make(chan struct{}),
	}
}

// Send enqueues msg, blocking while the pipe is full.
func (p *Pipe) Send(ctx context.Context, msg Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closed:
		return errors.WrapTransient(errors.ErrChannelClosed, "Pipe", "Send", "enqueue message")
	default:
	}

	select {
	case p.ch <- msg:
		return nil
	case <-p.closed:
		return errors.WrapTransient(errors.ErrChannelClosed, "Pipe", "Send", "enqueue message")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive dequeues the oldest message.
func (p *Pipe) Receive(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-p.ch:
		if !ok {
			return Message{}, errors.ErrChannelClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close stops accepting messages. It is safe to call more than once.
func (p *Pipe) Close() error {
	p.once.Do(func() {
		close(p.closed)
		// wait for in-flight sends before closing the data channel
		p.mu.Lock()
		close(p.ch)
		p.mu.Unlock()
	})
	return nil
}

// Len returns the number of buffered messages.
func (p *Pipe) Len() int {
	return len(p.ch)
}
