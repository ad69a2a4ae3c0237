package ddp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tsarna/ddp/pkg/ddp/o11y"
	"go.uber.org/zap"
)

type serverState int

const (
	stateIdle serverState = iota
	stateRunning
	stateStopped
)

// Server turns transport connections into Sessions, tracks them in its
// Registry and dispatches their frames to the embedded Handlers.
type Server struct {
	*Handlers

	transport    Transport
	codec        Codec
	logger       *zap.Logger
	metrics      *SessionMetrics
	tracer       o11y.TracingProvider
	writeTimeout time.Duration
	registry     *Registry

	// mu guards state and makes session registration atomic with respect to Stop
	mu    sync.Mutex
	state serverState
	conns sync.WaitGroup
}

func newServer(config *ServerConfig) *Server {
	logger := config.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handlers := config.handlers
	if handlers == nil {
		handlers = NewHandlers()
	}

	return &Server{
		Handlers:     handlers,
		transport:    config.transport,
		codec:        config.codec,
		logger:       logger,
		metrics:      NewSessionMetrics(config.metricsProvider),
		tracer:       config.tracingProvider,
		writeTimeout: config.writeTimeout,
		registry:     NewRegistry(),
	}
}

// Start begins listening on the transport and then runs the ready handlers.
// A server can only be started once.
func (srv *Server) Start(ctx context.Context) error {
	srv.mu.Lock()
	if srv.state != stateIdle {
		srv.mu.Unlock()
		return ErrServerStarted
	}
	srv.state = stateRunning
	srv.mu.Unlock()

	if err := srv.transport.Listen(ctx, srv.accept); err != nil {
		srv.mu.Lock()
		srv.state = stateIdle
		srv.mu.Unlock()
		return fmt.Errorf("ddp: transport listen: %w", err)
	}

	srv.logger.Info("DDP server ready")

	for _, h := range srv.readyHandlers() {
		h(srv)
	}

	return nil
}

// Stop closes every open session, waits for their disconnect handling to
// finish (or ctx to expire), empties the registry and shuts the transport
// down. Connections arriving after Stop are refused. Stop is idempotent.
func (srv *Server) Stop(ctx context.Context) error {
	srv.mu.Lock()
	srv.state = stateStopped
	sessions := srv.registry.Snapshot()
	srv.mu.Unlock()

	if len(sessions) > 0 {
		srv.logger.Info("Closing active sessions", zap.Int("session_count", len(sessions)))
	}

	// Closing waits for the peer's close handshake, so sessions close in
	// parallel and ctx bounds the whole wait.
	for _, s := range sessions {
		go s.closeWithReason("server shutting down")
	}

	waitErr := srv.waitForSessions(ctx)
	if waitErr != nil {
		srv.logger.Warn("Shutdown timeout reached with active sessions",
			zap.Int("remaining_sessions", srv.registry.Len()),
		)
	}
	srv.registry.Clear()

	if err := srv.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("ddp: transport shutdown: %w", err)
	}

	return waitErr
}

func (srv *Server) waitForSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		srv.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionCount returns the number of open sessions.
func (srv *Server) SessionCount() int {
	return srv.registry.Len()
}

// Session looks up an open session by id.
func (srv *Server) Session(id string) (*Session, bool) {
	return srv.registry.Get(id)
}

// Sessions returns the open sessions in no particular order.
func (srv *Server) Sessions() []*Session {
	return srv.registry.Snapshot()
}

// accept is the AcceptFunc handed to the transport. It owns the connection
// for its whole life.
func (srv *Server) accept(ctx context.Context, conn Conn) {
	srv.mu.Lock()
	if srv.state == stateStopped {
		srv.mu.Unlock()
		srv.logger.Debug("Rejecting connection",
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Error(ErrServerStopped),
		)
		_ = conn.Close("server shutting down")
		return
	}

	s := newSession(ctx, conn, sessionOptions{
		codec:        srv.codec,
		logger:       srv.logger,
		metrics:      srv.metrics,
		writeTimeout: srv.writeTimeout,
	})
	active := srv.registry.Add(s)
	srv.conns.Add(1)
	srv.mu.Unlock()

	defer srv.conns.Done()

	srv.metrics.RecordSessionStart(s.ctx, active)
	s.logger.Debug("Session opened",
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Int("active_sessions", active),
	)

	for _, h := range srv.connectedHandlers() {
		srv.invoke(s.ctx, s, "connected", func() { h(s) })
	}

	srv.readLoop(s)
	srv.finish(s)
}

// finish runs the disconnect path exactly once per session, whichever side
// closed the connection.
func (srv *Server) finish(s *Session) {
	s.finishOnce.Do(func() {
		s.closeWithReason("connection ended")

		_, active := srv.registry.Remove(s)
		srv.metrics.RecordSessionEnd(context.Background(), time.Since(s.connectedAt), active)
		s.logger.Debug("Session closed", zap.Int("active_sessions", active))

		for _, h := range srv.disconnectedHandlers() {
			srv.invoke(s.ctx, s, "disconnected", func() { h(s) })
		}
	})
}
