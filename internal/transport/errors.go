package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when no peer address is given.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrNoHandler is returned when no receive handler is configured.
	ErrNoHandler = errors.New("transport: no handler configured")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrFrameTooLarge is returned for frames above MaxFrameSize.
	ErrFrameTooLarge = errors.New("transport: frame too large")
)
