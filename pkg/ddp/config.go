package ddp

import (
	"time"

	"github.com/tsarna/ddp/pkg/ddp/o11y"
	"go.uber.org/zap"
)

// DefaultWriteTimeout bounds a single outbound frame write.
const DefaultWriteTimeout = 10 * time.Second

// ServerConfig holds the configuration for creating a Server.
// Use NewServerConfig() and chain methods, then call Build().
type ServerConfig struct {
	transport       Transport
	logger          *zap.Logger
	codec           Codec
	handlers        *Handlers
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
	writeTimeout    time.Duration
}

// NewServerConfig creates a new ServerConfig for building a Server.
//
// Example:
//
//	srv, err := ddp.NewServerConfig().
//	    WithTransport(listener).
//	    WithLogger(logger).
//	    WithMetricsProvider(prom.NewProvider()).
//	    Build()
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		codec:        EJSONCodec{},
		writeTimeout: DefaultWriteTimeout,
	}
}

// WithTransport sets the transport that accepts client connections. Required.
func (c *ServerConfig) WithTransport(transport Transport) *ServerConfig {
	c.transport = transport
	return c
}

// WithLogger sets the logger. Defaults to a no-op logger.
func (c *ServerConfig) WithLogger(logger *zap.Logger) *ServerConfig {
	c.logger = logger
	return c
}

// WithCodec replaces the default EJSON codec.
func (c *ServerConfig) WithCodec(codec Codec) *ServerConfig {
	if codec != nil {
		c.codec = codec
	}
	return c
}

// WithHandlers uses an existing handler set instead of a fresh one.
func (c *ServerConfig) WithHandlers(handlers *Handlers) *ServerConfig {
	c.handlers = handlers
	return c
}

// WithMetricsProvider enables metrics collection.
func (c *ServerConfig) WithMetricsProvider(provider o11y.MetricsProvider) *ServerConfig {
	c.metricsProvider = provider
	return c
}

// WithTracingProvider enables a span around every dispatched frame.
func (c *ServerConfig) WithTracingProvider(provider o11y.TracingProvider) *ServerConfig {
	c.tracingProvider = provider
	return c
}

// WithWriteTimeout sets the per-frame write timeout. Zero disables it.
//
// Default: 10 seconds
func (c *ServerConfig) WithWriteTimeout(timeout time.Duration) *ServerConfig {
	if timeout >= 0 {
		c.writeTimeout = timeout
	}
	return c
}

// IsValid returns ErrMissingTransport if no transport was configured.
func (c *ServerConfig) IsValid() error {
	if c.transport == nil {
		return ErrMissingTransport
	}
	return nil
}

// Build creates the Server. It fails if the configuration is invalid.
func (c *ServerConfig) Build() (*Server, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newServer(c), nil
}
