package natsbus

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/errors"
)

// DefaultCapacity is the receive buffer used when none is configured.
const DefaultCapacity = 1024

// Conn is the part of natsclient.Client the channels need.
type Conn interface {
	ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error)
	Unsubscribe(sub *nats.Subscription) error
	PublishMsg(ctx context.Context, msg *nats.Msg) error
}

type decodeFunc func(prefix string, in *nats.Msg) (bus.Message, error)

// Receiver subscribes to every subject under a prefix and yields decoded messages.
type Receiver struct {
	conn   Conn
	prefix string
	decode decodeFunc
	ch     chan *nats.Msg
	sub    *nats.Subscription
	done   chan struct{}
	once   sync.Once
}

// NewInbound subscribes to "<prefix>.>" and yields (topic, frame, payload[, extra]).
func NewInbound(conn Conn, prefix string, capacity int) (*Receiver, error) {
	return newReceiver(conn, prefix, capacity, Decode)
}

// NewCommands subscribes to "<prefix>.>" and yields (sender, command topic, data).
func NewCommands(conn Conn, prefix string, capacity int) (*Receiver, error) {
	return newReceiver(conn, prefix, capacity, DecodeCommand)
}

func newReceiver(conn Conn, prefix string, capacity int, decode decodeFunc) (*Receiver, error) {
	if conn == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Receiver", "New", "check connection")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	r := &Receiver{
		conn:   conn,
		prefix: prefix,
		decode: decode,
		ch:     make(chan *nats.Msg, capacity),
		done:   make(chan struct{}),
	}

	sub, err := conn.ChanSubscribe(Subject(prefix, ">"), r.ch)
	if err != nil {
		return nil, errors.WrapFatal(err, "Receiver", "New", "subscribe "+Subject(prefix, ">"))
	}
	r.sub = sub
	return r, nil
}

// Receive blocks for the next message. A message that cannot be decoded is
// returned as an invalid-class error; the next call continues with the
// following message.
func (r *Receiver) Receive(ctx context.Context) (bus.Message, error) {
	select {
	case <-r.done:
		return bus.Message{}, errors.ErrChannelClosed
	default:
	}

	select {
	case in := <-r.ch:
		return r.decode(r.prefix, in)
	case <-r.done:
		return bus.Message{}, errors.ErrChannelClosed
	case <-ctx.Done():
		return bus.Message{}, ctx.Err()
	}
}

// Close unsubscribes. Pending messages are discarded.
func (r *Receiver) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.conn.Unsubscribe(r.sub)
	})
	return err
}

// Pending returns the number of messages waiting in the receive buffer.
func (r *Receiver) Pending() int {
	return len(r.ch)
}

// Sender publishes relay messages under a prefix.
type Sender struct {
	conn   Conn
	prefix string
}

// NewSender creates the outbound channel publishing to "<prefix>.<topic>".
func NewSender(conn Conn, prefix string) (*Sender, error) {
	if conn == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Sender", "New", "check connection")
	}
	return &Sender{conn: conn, prefix: prefix}, nil
}

// Send encodes and publishes msg.
func (s *Sender) Send(ctx context.Context, msg bus.Message) error {
	out, err := Encode(s.prefix, msg)
	if err != nil {
		return err
	}
	if err := s.conn.PublishMsg(ctx, out); err != nil {
		return errors.WrapTransient(err, "Sender", "Send", "publish "+out.Subject)
	}
	return nil
}

// CommandSender publishes parameter commands, for tools and tests driving a relay.
type CommandSender struct {
	conn   Conn
	prefix string
	sender string
}

// NewCommandSender creates a command publisher identifying itself as sender.
func NewCommandSender(conn Conn, prefix, sender string) (*CommandSender, error) {
	if conn == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "CommandSender", "New", "check connection")
	}
	return &CommandSender{conn: conn, prefix: prefix, sender: sender}, nil
}

// Send publishes data on the command topic.
func (c *CommandSender) Send(ctx context.Context, commandTopic string, data []byte) error {
	out, err := EncodeCommand(c.prefix, c.sender, commandTopic, data)
	if err != nil {
		return err
	}
	if err := c.conn.PublishMsg(ctx, out); err != nil {
		return errors.WrapTransient(err, "CommandSender", "Send", "publish "+out.Subject)
	}
	return nil
}

var (
	_ bus.ReceiveCloser = (*Receiver)(nil)
	_ bus.Sender        = (*Sender)(nil)
)
