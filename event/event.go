// Package event holds the wire types shared by the server and client: the
// broadcast event itself, the sync record a subscription receives as its
// first frame, and the server-state snapshot those records are drawn from.
package event

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ProtocolVersion is the protocol version this module speaks. Clients send it
// in their "messages" RPC argument; the server only emits a sync frame when
// the declared version is >= 1.
const ProtocolVersion = 1

// Event is a single broadcast record. ID and ReqID correlate a message back
// to the caller of Server.Send. ReqID is server-assigned when the caller
// leaves it empty; ID is present only when the caller supplied one.
type Event struct {
	ID       *int64 `json:"id,omitempty"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
	ReqID    string `json:"req_id"`
	ServerID string `json:"server_id"`
}

// Sync is the leading frame of a subscription opened with version >= 1. It
// carries the identifiers of the last event the server broadcast, which may
// be absent if nothing has been sent yet.
type Sync struct {
	Name      string  `json:"name"`
	LastReqID *string `json:"last_req_id,omitempty"`
	LastID    *int64  `json:"last_id,omitempty"`
	ServerID  string  `json:"server_id"`
	Version   int     `json:"version"`
}

// NewSync builds a sync record from a server's current state snapshot.
func NewSync(state State, version int) Sync {
	return Sync{
		Name:      "sync",
		LastReqID: state.LastReqID,
		LastID:    state.LastID,
		ServerID:  state.ServerID,
		Version:   version,
	}
}

// State is the server-state snapshot: the currently registered clients and
// the identifiers of the last event broadcast.
type State struct {
	Clients   []string `json:"clients"`
	ServerID  string   `json:"server_id"`
	LastReqID *string  `json:"last_req_id,omitempty"`
	LastID    *int64   `json:"last_id,omitempty"`
}

// NewServerID returns a fresh server identity. The spec requires only that it
// be "typically a UUID"; any caller supplying their own string at
// construction time takes priority over this default.
func NewServerID() string {
	return uuid.NewString()
}

// NewReqID returns a fresh, time-ordered correlation id for an event that
// arrives at Server.Send without one.
func NewReqID() string {
	return ulid.Make().String()
}
