package ddp

import "context"

// Conn is a single message-framed, full-duplex connection delivered by a Transport.
// Read blocks until the next text frame arrives and returns an error once the
// connection is closed by either side. Implementations must allow Write and
// Close to be called concurrently with a blocked Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
	RemoteAddr() string
}

// AcceptFunc is invoked by a Transport for every accepted connection. It runs
// for the lifetime of the connection and returns once the connection is done.
type AcceptFunc func(ctx context.Context, conn Conn)

// Transport accepts connections and hands them to the server.
//
// Listen begins accepting and returns once the transport is listening (it does
// not block for the life of the listener). Shutdown stops accepting and
// releases the listener; it must tolerate being called more than once.
type Transport interface {
	Listen(ctx context.Context, accept AcceptFunc) error
	Shutdown(ctx context.Context) error
}

// Codec converts between Messages and wire frames.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}
