package client

import "errors"

var (
	// ErrStreamNotConnected is the Ping callback error when no RPC client
	// exists yet (the FSM has not reached connected or later).
	ErrStreamNotConnected = errors.New("stream not connected")

	// ErrClientIDRequired is returned by New when constructed without a
	// client_id.
	ErrClientIDRequired = errors.New("client: client_id is required")
)
