// Package bus defines the multi-part message type and the channel interfaces the
// relay reads from and writes to.
package bus

import "context"

// Receiver yields messages from an inbound or command channel.
// Receive blocks until a message arrives, the context is cancelled, or the
// channel is closed, in which case it returns errors.ErrChannelClosed.
type Receiver interface {
	Receive(ctx context.Context) (Message, error)
}

// Sender publishes messages to an outbound channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ReceiveCloser is a Receiver that owns a transport resource.
type ReceiveCloser interface {
	Receiver
	Close() error
}
