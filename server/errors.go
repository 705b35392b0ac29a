package server

import "errors"

// RPC argument-validation errors. The exact strings are part of the wire
// contract and are asserted on by clients of this package.
var (
	errMessagesArgc     = errors.New(`"messages" RPC expects one argument`)
	errMessagesObject   = errors.New(`"messages" RPC expects an options object`)
	errMessagesClientID = errors.New(`clients must provide their "client_id"`)
	errPingArgc         = errors.New(`"ping" RPC expects one argument`)
	errPingObject       = errors.New(`"ping" RPC expects an options object`)
	errPingReqID        = errors.New(`"req_id" must be a string if provided`)
)

var (
	// ErrEventNameRequired is returned from Send when the event's Name is empty.
	ErrEventNameRequired = errors.New("server: event name must be non-empty")

	// ErrNilIDGenerator is returned from WithIDGenerator when passed a nil func.
	ErrNilIDGenerator = errors.New("server: id generator option must not be nil")
)
