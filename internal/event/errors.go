package event

import "errors"

var (
	// ErrUnsupportedInput is returned when no handler accepts an input.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrHandlerFailure is returned by handlers that ran but could not apply
	// the requested change.
	ErrHandlerFailure = errors.New("invalid input")

	// ErrHandlerPanic is returned when a handler panicked.
	ErrHandlerPanic = errors.New("handler panicked")
)
