package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/smoothbus/metric"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithLogger routes client logs into logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithMaxReconnects bounds reconnection attempts; -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnection attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("negative reconnect wait %s", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets how often the server connection is probed.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithTimeout bounds the initial dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		if username == "" {
			return fmt.Errorf("empty username")
		}
		c.username, c.password = username, password
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithCircuitBreaker sets the failures that open the circuit and the
// longest time it stays open.
func WithCircuitBreaker(threshold int, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			return fmt.Errorf("circuit threshold must be positive, got %d", threshold)
		}
		if maxBackoff < initialBackoff {
			maxBackoff = initialBackoff
		}
		c.breaker = newBreaker(threshold, maxBackoff)
		return nil
	}
}

// WithHealthChangeCallback is called whenever the connection goes up or down.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithMetrics exports connection metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		m, err := newConnectionMetrics(registry)
		if err != nil {
			return err
		}
		c.metrics = m
		return nil
	}
}
