package client

import (
	"context"
	"errors"
	"time"

	"github.com/tsarna/ddp/pkg/ddp"
	"go.uber.org/zap"
)

// AuthorizationProvider returns an Authorization header value for the
// WebSocket handshake, e.g. "Bearer token123".
type AuthorizationProvider func(ctx context.Context) (string, error)

// DataHandler receives the collection messages (added, changed, removed)
// pushed by the server's publications.
type DataHandler func(msg *ddp.Message)

// ErrMissingURL is returned by Build when no URL was set.
var ErrMissingURL = errors.New("client: URL is required")

// ClientBuilder provides a fluent interface for building DDP clients.
type ClientBuilder struct {
	url          string
	logger       *zap.Logger
	dialTimeout  time.Duration
	codec        ddp.Codec
	authProvider AuthorizationProvider
	headers      map[string][]string
	dataHandler  DataHandler
}

// NewClient creates a new client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		dialTimeout: 30 * time.Second,
		logger:      zap.NewNop(),
		codec:       ddp.EJSONCodec{},
	}
}

// WithURL sets the WebSocket URL to connect to, e.g. ws://localhost:3000/websocket.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout bounds the WebSocket dial and the DDP handshake.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithCodec replaces the default EJSON codec.
func (b *ClientBuilder) WithCodec(codec ddp.Codec) *ClientBuilder {
	if codec != nil {
		b.codec = codec
	}
	return b
}

// WithAuthorization sets a static Authorization header value.
func (b *ClientBuilder) WithAuthorization(authHeader string) *ClientBuilder {
	b.authProvider = func(ctx context.Context) (string, error) {
		return authHeader, nil
	}
	return b
}

// WithAuthorizationProvider sets a function called on every Connect to
// obtain the Authorization header.
func (b *ClientBuilder) WithAuthorizationProvider(provider AuthorizationProvider) *ClientBuilder {
	b.authProvider = provider
	return b
}

// WithHeader sets a single HTTP header for the WebSocket handshake.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// WithDataHandler sets the function receiving collection messages.
func (b *ClientBuilder) WithDataHandler(handler DataHandler) *ClientBuilder {
	b.dataHandler = handler
	return b
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return ErrMissingURL
	}
	return nil
}

// Build creates a Client. Call Connect to open the session.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	return &Client{
		url:          b.url,
		logger:       b.logger,
		dialTimeout:  b.dialTimeout,
		codec:        b.codec,
		authProvider: b.authProvider,
		headers:      b.headers,
		dataHandler:  b.dataHandler,
	}, nil
}
