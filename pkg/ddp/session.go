package ddp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the server side of one live DDP connection. Handlers receive the
// Session as their outbound surface: every Send method encodes a protocol
// message and writes it to the connection. Once the session is closed all
// Send methods are silent no-ops.
//
// A Session is driven by a single connection goroutine; Send methods and
// Close may additionally be called from other goroutines.
type Session struct {
	id           string
	conn         Conn
	codec        Codec
	logger       *zap.Logger
	metrics      *SessionMetrics
	writeTimeout time.Duration
	connectedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes writes with each other and with close
	mu     sync.Mutex
	closed bool

	closeOnce  sync.Once
	finishOnce sync.Once

	values sync.Map
}

type sessionOptions struct {
	codec        Codec
	logger       *zap.Logger
	metrics      *SessionMetrics
	writeTimeout time.Duration
}

func newSession(ctx context.Context, conn Conn, opts sessionOptions) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)

	return &Session{
		id:           id,
		conn:         conn,
		codec:        opts.codec,
		logger:       opts.logger.With(zap.String("session", id)),
		metrics:      opts.metrics,
		writeTimeout: opts.writeTimeout,
		connectedAt:  time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ID returns the session token sent to the client in the "connected" message.
func (s *Session) ID() string {
	return s.id
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Logger returns a logger annotated with the session id.
func (s *Session) Logger() *zap.Logger {
	return s.logger
}

// IsClosed reports whether Close has been called or the connection has ended.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Set stores a per-session value for use by handlers.
func (s *Session) Set(key string, value any) {
	s.values.Store(key, value)
}

// Get returns a value stored with Set.
func (s *Session) Get(key string) (any, bool) {
	return s.values.Load(key)
}

// SendResult completes a method call: a "result" frame immediately followed
// by an "updated" frame for the same id.
func (s *Session) SendResult(id string, result any) {
	s.send(
		&Message{Msg: KindResult.String(), ID: id, Result: result},
		&Message{Msg: KindUpdated.String(), ID: id},
	)
}

// SendError reports a failed method call (or a protocol-level error when id is empty).
func (s *Session) SendError(id string, err any) {
	s.send(&Message{Msg: KindError.String(), ID: id, Error: errorPayload(err)})
}

// SendAdded announces a document. id identifies the document within collection.
func (s *Session) SendAdded(id, collection string, fields map[string]any) {
	s.send(&Message{Msg: KindAdded.String(), ID: id, Collection: collection, Fields: fields})
}

// SendChanged announces new values for fields of a document and the names of fields removed from it.
func (s *Session) SendChanged(id, collection string, fields map[string]any, cleared []string) {
	s.send(&Message{Msg: KindChanged.String(), ID: id, Collection: collection, Fields: fields, Cleared: cleared})
}

// SendRemoved announces that a document left collection.
func (s *Session) SendRemoved(id, collection string, fields map[string]any, cleared []string) {
	s.send(&Message{Msg: KindRemoved.String(), ID: id, Collection: collection, Fields: fields, Cleared: cleared})
}

// SendReady marks the subscription id as having sent its initial data set.
func (s *Session) SendReady(id string) {
	s.send(&Message{Msg: KindReady.String(), Subs: []string{id}})
}

// SendNosub reports that subscription id stopped or was refused. err may be nil.
func (s *Session) SendNosub(id string, err any) {
	s.send(&Message{Msg: KindNosub.String(), ID: id, Error: errorPayload(err)})
}

// errorPayload turns a Go error into the structured form clients expect;
// any other value is sent as given.
func errorPayload(v any) any {
	if err, ok := v.(error); ok && err != nil {
		return &Error{Error: err.Error()}
	}
	return v
}

// SendEvent sends msg tagged with an arbitrary kind. msg is copied; the
// caller's value is not modified.
func (s *Session) SendEvent(kind string, msg Message) {
	msg.Msg = kind
	s.send(&msg)
}

// Close closes the session and its connection. Only the first call has any
// effect. Sends racing with Close may be dropped.
func (s *Session) Close() {
	s.closeWithReason("session closed")
}

func (s *Session) closeWithReason(reason string) {
	s.closeOnce.Do(func() {
		// Cancelling first aborts any write currently holding the lock.
		s.cancel()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.conn.Close(reason); err != nil {
			s.logger.Debug("Connection close error (may be expected)", zap.Error(err))
		}
	})
}

// send encodes msgs and writes them in order while holding the write lock, so
// frames of one call are never interleaved with frames of another.
func (s *Session) send(msgs ...*Message) {
	frames := make([][]byte, len(msgs))
	for i, msg := range msgs {
		data, err := s.codec.Encode(msg)
		if err != nil {
			s.logger.Error("Failed to encode outbound message, dropping",
				zap.String("kind", msg.Msg),
				zap.String("id", msg.ID),
				zap.Error(err),
			)
			return
		}
		frames[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("Dropping send on closed session", zap.String("kind", msgs[0].Msg))
		return
	}

	for i, data := range frames {
		if err := s.write(data); err != nil {
			s.logger.Warn("Failed to write outbound message",
				zap.String("kind", msgs[i].Msg),
				zap.Error(err),
			)
			s.metrics.RecordWriteError(s.ctx, msgs[i].Msg)
			return
		}
		s.metrics.RecordFrameSent(s.ctx, len(data), msgs[i].Msg)
	}
}

func (s *Session) write(data []byte) error {
	ctx := s.ctx
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	return s.conn.Write(ctx, data)
}
