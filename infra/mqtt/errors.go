package mqtt

import "errors"

var (
	// ErrResponseTimeout is returned when the remote authority does not answer in time.
	ErrResponseTimeout = errors.New("timeout waiting for response")
	// ErrRemote wraps an error reported by the remote authority.
	ErrRemote = errors.New("remote authority error")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend closed")
)
