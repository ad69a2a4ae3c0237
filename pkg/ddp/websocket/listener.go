package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tsarna/ddp/pkg/ddp"
)

// ErrAlreadyListening is returned when Listen is called a second time.
var ErrAlreadyListening = errors.New("websocket: listener already started")

// Listener is a ddp.Transport serving DDP over WebSocket. Each upgraded
// connection is handed to the server's AcceptFunc for its whole life.
type Listener struct {
	config *ListenerConfig
	logger *zap.Logger
	router chi.Router

	mu         sync.Mutex
	accept     ddp.AcceptFunc
	httpServer *http.Server
	addr       net.Addr

	shutdown     chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
	serving      sync.WaitGroup
}

var _ ddp.Transport = (*Listener)(nil)

func newListener(config *ListenerConfig) *Listener {
	logger := config.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Listener{
		config:   config,
		logger:   logger,
		shutdown: make(chan struct{}),
	}

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Get(config.path, l.ServeWebsocket)
	for _, h := range config.handlers {
		router.Handle(h.pattern, h.handler)
	}
	l.router = router

	return l
}

// Handler returns the HTTP router, for mounting the endpoint in another server.
func (l *Listener) Handler() http.Handler {
	return l.router
}

// Addr returns the bound address once Listen has succeeded.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Listen binds the configured address and starts serving in the background.
func (l *Listener) Listen(ctx context.Context, accept ddp.AcceptFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.accept != nil {
		return ErrAlreadyListening
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.config.address)
	if err != nil {
		return fmt.Errorf("websocket: listen on %s: %w", l.config.address, err)
	}

	l.accept = accept
	l.addr = ln.Addr()
	l.httpServer = &http.Server{Handler: l.router}

	l.logger.Info("Listening for DDP connections",
		zap.String("address", ln.Addr().String()),
		zap.String("path", l.config.path),
	)

	l.serving.Add(1)
	go func() {
		defer l.serving.Done()
		if err := l.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	return nil
}

// ServeWebsocket upgrades the request and runs the connection. It can be
// used directly as an http.HandlerFunc once Listen or Attach has been called.
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	accept := l.accept
	l.mu.Unlock()

	if accept == nil {
		http.Error(w, "DDP server not started", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-l.shutdown:
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  l.config.originPatterns,
	})
	if err != nil {
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		return
	}

	l.logger.Debug("WebSocket connection established",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)

	conn := newConn(r.Context(), wsConn, r.RemoteAddr, l.config, l.logger)
	defer conn.Close("connection ended")

	accept(conn.ctx, conn)
}

// Attach installs accept without binding a socket, for use when Handler is
// mounted in an externally managed HTTP server.
func (l *Listener) Attach(accept ddp.AcceptFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.accept != nil {
		return ErrAlreadyListening
	}
	l.accept = accept
	return nil
}

// Shutdown stops accepting connections and closes the HTTP server. Upgraded
// connections belong to the ddp.Server and are not touched. Only the first
// call does any work.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		close(l.shutdown)

		l.mu.Lock()
		httpServer := l.httpServer
		l.mu.Unlock()

		if httpServer == nil {
			return
		}

		l.logger.Info("Stopping WebSocket listener")
		l.shutdownErr = httpServer.Shutdown(ctx)
		l.serving.Wait()
	})

	return l.shutdownErr
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("Request",
				zap.String("method", r.Method),
				zap.String("url", r.URL.String()),
				zap.String("remote_addr", r.RemoteAddr),
			)
			next.ServeHTTP(w, r)
		})
	}
}
