package ddp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory Conn. Tests push client frames with send and read
// server frames with next.
type fakeConn struct {
	inbound    chan []byte
	outbound   chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	closeCount atomic.Int32
	// closeDelay stands in for a peer slow to answer the close handshake.
	closeDelay time.Duration
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.outbound <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(reason string) error {
	c.closeCount.Add(1)
	time.Sleep(c.closeDelay)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string {
	return "fake:1"
}

// hangup simulates the client going away.
func (c *fakeConn) hangup() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) send(t *testing.T, frame string) {
	t.Helper()
	c.inbound <- []byte(frame)
}

func (c *fakeConn) nextRaw(t *testing.T) string {
	t.Helper()
	select {
	case data := <-c.outbound:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return ""
	}
}

func (c *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.nextRaw(t)), &msg))
	return msg
}

func (c *fakeConn) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.outbound:
		t.Fatalf("unexpected outbound frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeTransport hands connections to the server when the test calls connect.
type fakeTransport struct {
	mu            sync.Mutex
	accept        AcceptFunc
	listenErr     error
	listenCount   int
	shutdownCount int
	wg            sync.WaitGroup
}

func (tr *fakeTransport) Listen(ctx context.Context, accept AcceptFunc) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.listenCount++
	if tr.listenErr != nil {
		return tr.listenErr
	}
	tr.accept = accept
	return nil
}

func (tr *fakeTransport) Shutdown(ctx context.Context) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.shutdownCount++
	return nil
}

func (tr *fakeTransport) connect(t *testing.T) *fakeConn {
	t.Helper()
	return tr.connectConn(t, newFakeConn())
}

func (tr *fakeTransport) connectConn(t *testing.T, conn *fakeConn) *fakeConn {
	t.Helper()
	tr.mu.Lock()
	accept := tr.accept
	tr.mu.Unlock()
	require.NotNil(t, accept, "transport not listening")

	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		accept(context.Background(), conn)
	}()
	return conn
}

func (tr *fakeTransport) shutdowns() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.shutdownCount
}

// newTestServer builds and starts a server on a fake transport.
func newTestServer(t *testing.T) (*Server, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	srv, err := NewServerConfig().
		WithTransport(tr).
		WithLogger(zap.NewNop()).
		Build()
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		tr.wg.Wait()
	})
	return srv, tr
}

// connectSession opens a connection and waits until its session is registered.
func connectSession(t *testing.T, srv *Server, tr *fakeTransport) (*fakeConn, *Session) {
	t.Helper()
	sessions := make(chan *Session, 1)
	var once sync.Once
	srv.OnConnected(func(s *Session) {
		once.Do(func() { sessions <- s })
	})

	conn := tr.connect(t)
	select {
	case s := <-sessions:
		return conn, s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session")
		return nil, nil
	}
}
