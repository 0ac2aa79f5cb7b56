package ws

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyConnections is returned when the server is at capacity.
	ErrTooManyConnections = errors.New("too many connections")

	errTerminated = errors.New("connection terminated by client")
)

// ProtocolError is a frame-level failure that ends the connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}
