package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tsarna/ddp/pkg/ddp"
)

// Conn adapts a WebSocket connection to ddp.Conn. Only text frames carry
// DDP messages; binary frames are discarded.
type Conn struct {
	ws         *websocket.Conn
	remoteAddr string
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ ddp.Conn = (*Conn)(nil)

func newConn(ctx context.Context, ws *websocket.Conn, remoteAddr string, config *ListenerConfig, logger *zap.Logger) *Conn {
	ws.SetReadLimit(config.readLimit)

	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		ws:         ws,
		remoteAddr: remoteAddr,
		logger:     logger.With(zap.String("remote_addr", remoteAddr)),
		ctx:        ctx,
		cancel:     cancel,
	}

	if config.pingInterval > 0 {
		go c.pingLoop(config.pingInterval, config.pingTimeout)
	}

	return c
}

// Read returns the next text frame. Cancellation of ctx is ignored; a
// pending Read ends when the connection is closed.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	ctx = context.WithoutCancel(ctx)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("WebSocket connection closed by client",
					zap.Int("close_status", int(status)),
				)
			}
			return nil, err
		}

		if typ != websocket.MessageText {
			c.logger.Debug("Ignoring binary frame", zap.Int("data_length", len(data)))
			continue
		}

		return data, nil
	}
}

func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close sends a normal closure with reason. Later calls return the first result.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close(websocket.StatusNormalClosure, reason)
		c.cancel()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// pingLoop sends periodic pings and drops the connection when one goes
// unanswered. Pongs are processed by the concurrent Read.
func (c *Conn) pingLoop(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, timeout)
			err := c.ws.Ping(pingCtx)
			cancel()

			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Warn("Ping failed, closing connection", zap.Error(err))
				_ = c.ws.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}
