package ddp

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTransport is returned by ServerConfig.Build when no Transport was supplied.
	ErrMissingTransport = errors.New("ddp: missing transport")

	// ErrServerStarted is returned by Start when the server is already running or has been stopped.
	ErrServerStarted = errors.New("ddp: server already started")

	// ErrServerStopped is returned when a connection arrives after Stop.
	ErrServerStopped = errors.New("ddp: server stopped")
)

// DecodeError reports an inbound frame that could not be decoded into a Message.
// Only that frame is discarded; the session keeps running.
type DecodeError struct {
	Length int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ddp: failed to decode %d byte frame: %v", e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
