package fast

import "errors"

var (
	// ErrConnectionClosed is returned from a pending Call or stream Recv when the
	// underlying connection is torn down before a response or end frame arrives.
	ErrConnectionClosed = errors.New("fast: connection closed")

	// ErrUnknownMethod is sent back in a response frame when a client calls a
	// method the server has not registered.
	ErrUnknownMethod = errors.New("fast: unknown method")

	// ErrServerClosed is returned by Server.Listen callers after Close has been
	// called and the listener is torn down.
	ErrServerClosed = errors.New("fast: server closed")
)
