package client

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a live hub
	// session and there is none.
	ErrNotConnected = errors.New("not connected to hub")

	// ErrAlreadyConnected is returned by Connect when a session is
	// already established.
	ErrAlreadyConnected = errors.New("already connected to hub")

	// ErrClosed is returned after Close; a closed client never
	// reconnects.
	ErrClosed = errors.New("client is closed")

	// ErrRequestTimeout is returned when a full-state request receives
	// no reply within its deadline.
	ErrRequestTimeout = errors.New("full-state request timed out")
)
