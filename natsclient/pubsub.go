package natsclient

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/c360/smoothbus/errors"
)

// ChanSubscribe delivers messages on subject into ch. When ch is full NATS
// buffers up to its pending limits and then reports a slow consumer. The
// subscription is removed on Close.
func (c *Client) ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}

	sub, err := conn.ChanSubscribe(subject, ch)
	if err != nil {
		c.metrics.recordError("subscribe")
		return nil, errors.WrapTransient(err, "Client", "ChanSubscribe", "subscribe to "+subject)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Debug("Subscribed", "subject", subject)
	return sub, nil
}

// Unsubscribe removes a subscription made through ChanSubscribe.
func (c *Client) Unsubscribe(sub *nats.Subscription) error {
	if sub == nil {
		return nil
	}

	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if !sub.IsValid() {
		return nil
	}
	return sub.Unsubscribe()
}

// Publish sends data on subject without headers.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	return c.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsg sends msg, headers included. Core NATS publishes never block on
// subscribers; a publish only fails when the connection is gone.
func (c *Client) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := c.connected()
	if err != nil {
		c.metrics.recordError("publish")
		return err
	}
	if err := conn.PublishMsg(msg); err != nil {
		c.metrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "PublishMsg", "publish to "+msg.Subject)
	}

	c.metrics.recordPublish(len(msg.Data))
	return nil
}
