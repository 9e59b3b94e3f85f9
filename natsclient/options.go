package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithHealthInterval sets the RTT polling interval (0 disables it)
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithLogger sets the logger. The client adds component and url attributes.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithHealthChangeCallback is called, on its own goroutine for connection
// events, whenever the link goes up or down.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithReconnect configures the nats.go reconnect loop. max -1 reconnects
// forever; 0 disables reconnects.
func WithReconnect(max int, wait time.Duration) ClientOption {
	return func(c *Client) error {
		if wait < 0 {
			return fmt.Errorf("reconnect wait cannot be negative")
		}
		c.maxReconnects = max
		c.reconnectWait = wait
		return nil
	}
}

// WithCircuitBreaker opens the circuit after threshold consecutive failures
// and doubles the backoff up to maxBackoff while it stays open.
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold <= 0 {
			return fmt.Errorf("circuit breaker threshold must be positive")
		}
		if maxBackoff <= 0 {
			return fmt.Errorf("max backoff must be positive")
		}
		c.circuitThreshold = threshold
		c.maxBackoff = maxBackoff
		return nil
	}
}

// Auth holds broker credentials. Token is used when set, otherwise User and
// Password when both are set.
type Auth struct {
	User     string
	Password string
	Token    string
}

// WithAuth sets broker credentials. Close clears them from memory.
func WithAuth(a Auth) ClientOption {
	return func(c *Client) error {
		c.username, c.password, c.token = a.User, a.Password, a.Token
		return nil
	}
}

// WithName sets the client name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds Close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithHandlerTimeout bounds the context handed to message handlers
func WithHandlerTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("handler timeout must be positive")
		}
		c.handlerTimeout = d
		return nil
	}
}

// WithMetrics records connection state into the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}
