package websocket

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPath is where the DDP endpoint is mounted.
	DefaultPath = "/websocket"

	// DefaultReadLimit is the largest inbound frame accepted, in bytes.
	DefaultReadLimit = 1 << 20

	// DefaultPingInterval is the default interval for sending WebSocket ping frames.
	// This helps detect dead connections and maintain connection health.
	DefaultPingInterval = 30 * time.Second

	// DefaultPingTimeout bounds the wait for the pong to each ping.
	DefaultPingTimeout = 10 * time.Second
)

// ErrMissingAddress is returned by Build when no listen address was set.
var ErrMissingAddress = errors.New("websocket: missing listen address")

type extraHandler struct {
	pattern string
	handler http.Handler
}

// ListenerConfig holds the configuration for creating a Listener.
// Use NewListenerConfig() and chain methods, then call Build().
type ListenerConfig struct {
	address        string
	path           string
	logger         *zap.Logger
	readLimit      int64
	pingInterval   time.Duration
	pingTimeout    time.Duration
	originPatterns []string
	handlers       []extraHandler
}

// NewListenerConfig creates a new ListenerConfig.
//
// Example:
//
//	listener, err := websocket.NewListenerConfig().
//	    WithAddress(":3000").
//	    WithLogger(logger).
//	    WithHandler("/metrics", promhttp.Handler()).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		path:         DefaultPath,
		readLimit:    DefaultReadLimit,
		pingInterval: DefaultPingInterval,
		pingTimeout:  DefaultPingTimeout,
	}
}

// WithAddress sets the TCP address to listen on, e.g. ":3000". Use port 0
// to pick a free port; Addr reports the result once listening.
func (c *ListenerConfig) WithAddress(address string) *ListenerConfig {
	c.address = address
	return c
}

// WithPath sets the HTTP path of the DDP endpoint.
//
// Default: /websocket
func (c *ListenerConfig) WithPath(path string) *ListenerConfig {
	if path != "" {
		c.path = path
	}
	return c
}

// WithLogger sets the logger. Defaults to a no-op logger.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithReadLimit sets the maximum size of an inbound frame. Larger frames
// close the connection.
//
// Default: 1 MiB
func (c *ListenerConfig) WithReadLimit(limit int64) *ListenerConfig {
	if limit > 0 {
		c.readLimit = limit
	}
	return c
}

// WithPingInterval sets the interval for sending WebSocket ping frames.
// Set to 0 to disable ping/pong health monitoring.
//
// Default: 30 seconds
func (c *ListenerConfig) WithPingInterval(interval time.Duration) *ListenerConfig {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithPingTimeout sets how long to wait for a pong before dropping the connection.
//
// Default: 10 seconds
func (c *ListenerConfig) WithPingTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.pingTimeout = timeout
	}
	return c
}

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// given patterns (see websocket.AcceptOptions). By default only same-origin
// browser connections are accepted.
func (c *ListenerConfig) WithOriginPatterns(patterns ...string) *ListenerConfig {
	c.originPatterns = append(c.originPatterns, patterns...)
	return c
}

// WithHandler mounts an additional HTTP handler next to the DDP endpoint,
// such as a metrics or health check endpoint.
func (c *ListenerConfig) WithHandler(pattern string, handler http.Handler) *ListenerConfig {
	c.handlers = append(c.handlers, extraHandler{pattern: pattern, handler: handler})
	return c
}

// IsValid returns ErrMissingAddress if no address was configured.
func (c *ListenerConfig) IsValid() error {
	if c.address == "" {
		return ErrMissingAddress
	}
	return nil
}

// Build creates a Listener from the configuration.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}
