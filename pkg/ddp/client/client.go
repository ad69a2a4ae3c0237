// Package client is a DDP client over WebSocket. It is used by the ddp
// command line tool and by end-to-end tests of the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tsarna/ddp/pkg/ddp"
)

var (
	// ErrNotConnected is returned by operations on a client without an open session.
	ErrNotConnected = errors.New("client: not connected")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("client: already connected")

	// ErrConnectionLost is returned to pending calls when the connection ends.
	ErrConnectionLost = errors.New("client: connection lost")
)

// ServerError is an error reported by the server in an "error" or "nosub"
// message.
type ServerError struct {
	Code    string
	Reason  string
	Details string

	// Payload is the error value as received.
	Payload any
}

func (e *ServerError) Error() string {
	switch {
	case e.Code != "" && e.Reason != "":
		return fmt.Sprintf("server error %s: %s", e.Code, e.Reason)
	case e.Code != "":
		return "server error: " + e.Code
	default:
		return fmt.Sprintf("server error: %v", e.Payload)
	}
}

func newServerError(payload any) *ServerError {
	e := &ServerError{Payload: payload}
	switch v := payload.(type) {
	case string:
		e.Code = v
	case map[string]any:
		e.Code = fmt.Sprint(v["error"])
		if reason, ok := v["reason"].(string); ok {
			e.Reason = reason
		}
		if details, ok := v["details"].(string); ok {
			e.Details = details
		}
	}
	return e
}

// Client is a DDP client session.
type Client struct {
	url          string
	logger       *zap.Logger
	dialTimeout  time.Duration
	codec        ddp.Codec
	authProvider AuthorizationProvider
	headers      map[string][]string
	dataHandler  DataHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	sessionID string
	handshake chan *ddp.Message
	waiters   map[string]chan *ddp.Message

	messageID atomic.Int64
}

// Connect dials the server and performs the DDP handshake. It returns once
// the server has answered with "connected".
func (c *Client) Connect(ctx context.Context) error {
	if _, err := url.Parse(c.url); err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
	defer dialCancel()

	dialOptions := &websocket.DialOptions{}
	if c.headers != nil {
		dialOptions.HTTPHeader = make(map[string][]string)
		for key, values := range c.headers {
			dialOptions.HTTPHeader[key] = values
		}
	}

	if c.authProvider != nil {
		authValue, err := c.authProvider(dialCtx)
		if err != nil {
			return fmt.Errorf("failed to get authorization: %w", err)
		}
		if authValue != "" {
			if dialOptions.HTTPHeader == nil {
				dialOptions.HTTPHeader = make(map[string][]string)
			}
			dialOptions.HTTPHeader["Authorization"] = []string{authValue}
		}
	}

	conn, _, err := websocket.Dial(dialCtx, c.url, dialOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	c.handshake = make(chan *ddp.Message, 1)
	c.waiters = make(map[string]chan *ddp.Message)
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.send(dialCtx, &ddp.Message{Msg: "connect", Version: "1", Support: []string{"1"}}); err != nil {
		c.Close()
		return err
	}

	select {
	case msg := <-c.handshake:
		if msg.Kind() == ddp.KindFailed {
			c.Close()
			return fmt.Errorf("server refused connection, suggested version %q", msg.Version)
		}
		c.mu.Lock()
		c.sessionID = msg.Session
		c.mu.Unlock()
	case <-dialCtx.Done():
		c.Close()
		return fmt.Errorf("waiting for handshake: %w", dialCtx.Err())
	case <-c.done:
		c.Close()
		return ErrConnectionLost
	}

	c.logger.Info("DDP client connected", zap.String("url", c.url), zap.String("session", c.SessionID()))
	return nil
}

// SessionID returns the id assigned by the server, or "" before Connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Call invokes a server method and waits for both its result and the
// "updated" message that follows it.
func (c *Client) Call(ctx context.Context, method string, params any) (any, error) {
	id := c.nextID()
	replies, err := c.register("method:" + id)
	if err != nil {
		return nil, err
	}
	defer c.unregister("method:" + id)

	if err := c.send(ctx, &ddp.Message{Msg: "method", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	var result any
	var haveResult, updated bool
	for !(haveResult && updated) {
		msg, err := c.wait(ctx, replies)
		if err != nil {
			return nil, err
		}

		switch msg.Kind() {
		case ddp.KindResult:
			result, haveResult = msg.Result, true
		case ddp.KindUpdated:
			updated = true
		case ddp.KindError:
			return nil, newServerError(msg.Error)
		}
	}

	return result, nil
}

// Subscribe starts a subscription and waits until it is ready. It returns
// the subscription id for Unsubscribe.
func (c *Client) Subscribe(ctx context.Context, name string, params any) (string, error) {
	id := c.nextID()
	replies, err := c.register("sub:" + id)
	if err != nil {
		return "", err
	}
	defer c.unregister("sub:" + id)

	if err := c.send(ctx, &ddp.Message{Msg: "sub", ID: id, Name: name, Params: params}); err != nil {
		return "", err
	}

	msg, err := c.wait(ctx, replies)
	if err != nil {
		return "", err
	}
	if msg.Kind() == ddp.KindNosub {
		if msg.Error != nil {
			return "", newServerError(msg.Error)
		}
		return "", fmt.Errorf("subscription %q stopped", name)
	}

	return id, nil
}

// Unsubscribe stops a subscription and waits for the server's nosub.
func (c *Client) Unsubscribe(ctx context.Context, id string) error {
	replies, err := c.register("sub:" + id)
	if err != nil {
		return err
	}
	defer c.unregister("sub:" + id)

	if err := c.send(ctx, &ddp.Message{Msg: "unsub", ID: id}); err != nil {
		return err
	}

	_, err = c.wait(ctx, replies)
	return err
}

// Ping sends a DDP ping and returns the round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	id := c.nextID()
	replies, err := c.register("ping:" + id)
	if err != nil {
		return 0, err
	}
	defer c.unregister("ping:" + id)

	start := time.Now()
	if err := c.send(ctx, &ddp.Message{Msg: "ping", ID: id}); err != nil {
		return 0, err
	}
	if _, err := c.wait(ctx, replies); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	done := c.done
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
	cancel()
	<-done

	c.logger.Info("DDP client disconnected")
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) nextID() string {
	return strconv.FormatInt(c.messageID.Add(1), 10)
}

func (c *Client) register(key string) (chan *ddp.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}
	ch := make(chan *ddp.Message, 4)
	c.waiters[key] = ch
	return ch, nil
}

func (c *Client) unregister(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, key)
}

func (c *Client) wait(ctx context.Context, replies chan *ddp.Message) (*ddp.Message, error) {
	select {
	case msg := <-replies:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionLost
	}
}

func (c *Client) send(ctx context.Context, msg *ddp.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("Connection ended", zap.Error(err))
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("Failed to decode DDP message", zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *ddp.Message) {
	switch msg.Kind() {
	case ddp.KindConnected, ddp.KindFailed:
		select {
		case c.handshake <- msg:
		default:
		}

	case ddp.KindResult, ddp.KindUpdated, ddp.KindError:
		c.deliver("method:"+msg.ID, msg)

	case ddp.KindReady:
		for _, id := range msg.Subs {
			c.deliver("sub:"+id, msg)
		}

	case ddp.KindNosub:
		c.deliver("sub:"+msg.ID, msg)

	case ddp.KindPong:
		c.deliver("ping:"+msg.ID, msg)

	case ddp.KindPing:
		if err := c.send(c.ctx, &ddp.Message{Msg: "pong", ID: msg.ID}); err != nil {
			c.logger.Debug("Failed to answer ping", zap.Error(err))
		}

	case ddp.KindAdded, ddp.KindChanged, ddp.KindRemoved:
		if c.dataHandler != nil {
			c.dataHandler(msg)
		}

	default:
		c.logger.Debug("Ignoring message", zap.String("kind", msg.Msg))
	}
}

func (c *Client) deliver(key string, msg *ddp.Message) {
	c.mu.Lock()
	ch, ok := c.waiters[key]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("No waiter for message", zap.String("kind", msg.Msg), zap.String("id", msg.ID))
		return
	}

	select {
	case ch <- msg:
	default:
		c.logger.Warn("Dropping reply for slow waiter", zap.String("kind", msg.Msg), zap.String("id", msg.ID))
	}
}
