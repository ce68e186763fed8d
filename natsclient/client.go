package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/smoothbus/errors"
)

// ConnectionStatus is the state of the server connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client owns one NATS connection. Connection attempts go through a circuit
// breaker; once connected, nats.go handles reconnection and the client
// tracks the resulting status.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username string
	password string
	token    string

	breaker        *breaker
	metrics        *connectionMetrics
	onHealthChange func(bool)

	status     atomic.Int32
	reconnects atomic.Int64

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	subs   []*nats.Subscription
	closed bool
}

// NewClient creates a disconnected client for url, which may list several
// comma-separated servers.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        slog.Default().With("component", "natsclient"),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		breaker:       newBreaker(5, time.Minute),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	return c, nil
}

// URL returns the server list the client dials.
func (c *Client) URL() string { return c.url }

// Status returns the connection status. A disconnected client whose breaker
// is open reports StatusCircuitOpen.
func (c *Client) Status() ConnectionStatus {
	s := ConnectionStatus(c.status.Load())
	if s == StatusDisconnected && !c.breaker.allow() {
		return StatusCircuitOpen
	}
	return s
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures returns the failed attempts since the last success.
func (c *Client) Failures() int {
	n, _ := c.breaker.snapshot()
	return n
}

// Reconnects returns how often nats.go re-established the connection.
func (c *Client) Reconnects() int64 { return c.reconnects.Load() }

// Conn returns the underlying connection, nil before Connect.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
	c.metrics.recordStatus(s)
}

func (c *Client) notify(healthy bool) {
	if c.onHealthChange != nil {
		go c.onHealthChange(healthy)
	}
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	switch {
	case c.token != "":
		opts = append(opts, nats.Token(c.token))
	case c.username != "":
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	return opts
}

// Connect dials the server. It fails fast with ErrCircuitOpen while the
// breaker is open; other failures are transient.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	connected, closed := c.conn != nil, c.closed
	c.mu.RUnlock()
	if closed {
		return errors.WrapFatal(ErrNotConnected, "Client", "Connect", "client closed")
	}
	if connected {
		return nil
	}
	if !c.breaker.allow() {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type dialed struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialed, 1)
	opts := c.natsOptions()
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- dialed{conn, err}
	}()

	var d dialed
	select {
	case d = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		d.err = ctx.Err()
	}
	if d.err != nil {
		return c.connectFailed(d.err)
	}

	js, err := jetstream.New(d.conn)
	if err != nil {
		c.logger.Warn("JetStream unavailable", "error", err)
	}

	c.mu.Lock()
	c.conn, c.js = d.conn, js
	c.mu.Unlock()

	c.breaker.success()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "server", d.conn.ConnectedUrlRedacted())
	c.notify(true)
	return nil
}

func (c *Client) connectFailed(err error) error {
	c.setStatus(StatusDisconnected)
	c.metrics.recordError("connect")
	if opened, wait := c.breaker.failure(); opened {
		c.logger.Warn("Circuit breaker opened", "backoff", wait, "error", err)
	}
	return errors.WrapTransient(err, "Client", "Connect", "dial "+c.url)
}

// WaitForConnection blocks until the connection is up or ctx is done.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close removes tracked subscriptions, drains the connection and forgets the
// credentials. The drain is bounded by the drain timeout and by ctx. Close is
// idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, subs := c.conn, c.subs
	c.conn, c.js, c.subs = nil, nil, nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if sub.IsValid() {
			if err := sub.Unsubscribe(); err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
			}
		}
	}

	if conn != nil {
		limit := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(deadline))
		}

		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain"))
			}
		case <-time.After(limit):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain exceeded %s", limit), "Client", "Close", "drain"))
		case <-ctx.Done():
			errs = append(errs, errors.WrapTransient(ctx.Err(), "Client", "Close", "drain"))
		}
		conn.Close()
	}

	c.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

func (c *Client) jetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

func (c *Client) connected() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)
	c.notify(false)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.reconnects.Add(1)
	c.metrics.recordReconnect()
	c.setStatus(StatusConnected)
	c.logger.Info("Reconnected to NATS", "server", conn.ConnectedUrlRedacted())
	c.notify(true)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.notify(false)
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if stderrors.Is(err, nats.ErrSlowConsumer) && sub != nil {
		c.metrics.recordError("slow_consumer")
		dropped, _ := sub.Dropped()
		c.logger.Warn("Slow consumer, messages dropped", "subject", sub.Subject, "dropped", dropped)
		return
	}
	c.metrics.recordError("async")
	c.logger.Error("NATS error", "error", err)
}
