// Package server implements the subscription server: accept RPC connections
// over the "Fast" transport, register subscriptions by client_id, evict
// duplicates, and broadcast events to every live subscription.
package server

import (
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/node-fast-messages/event"
	"github.com/TritonDataCenter/node-fast-messages/fast"
)

// Server fans out events broadcast via Send to every client currently
// registered through a "messages" RPC subscription.
type Server struct {
	serverID string
	log      zerolog.Logger
	idGen    func() string
	metrics  *Metrics

	transport *fast.Server
	registry  *registry

	stateMu   sync.RWMutex
	lastReqID *string
	lastID    *int64
}

// New constructs a Server with the given identity. If serverID is empty, a
// fresh UUID is assigned.
func New(serverID string, opts ...Option) (*Server, error) {
	if serverID == "" {
		serverID = event.NewServerID()
	}
	o, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		serverID:  serverID,
		log:       o.logger,
		idGen:     o.idGen,
		metrics:   o.metrics,
		transport: fast.NewServer(),
		registry:  newRegistry(),
	}
	s.transport.RegisterStream("messages", s.handleMessages)
	s.transport.RegisterUnary("ping", s.handlePing)
	return s, nil
}

// ServerID returns the identity stamped on every broadcast event.
func (s *Server) ServerID() string {
	return s.serverID
}

// Listen binds addr and starts accepting connections.
func (s *Server) Listen(addr string) error {
	return s.transport.Listen(addr)
}

// Addr returns the listener's bound address. Only valid after Listen succeeds.
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// Send validates e, assigns a req_id if the caller omitted one, stamps the
// server's identity, and writes the completed event on every live
// subscription. Per-subscription write failures are logged and do not affect
// other subscriptions or this call.
func (s *Server) Send(e event.Event) error {
	if e.Name == "" {
		return ErrEventNameRequired
	}
	if e.ReqID == "" {
		e.ReqID = s.idGen()
	}
	e.ServerID = s.serverID

	s.stateMu.Lock()
	reqID := e.ReqID
	s.lastReqID = &reqID
	if e.ID != nil {
		id := *e.ID
		s.lastID = &id
	}
	s.stateMu.Unlock()

	for _, sub := range s.registry.snapshot() {
		if err := sub.stream.Send(e); err != nil {
			s.log.Warn().Err(err).Str("client_id", sub.clientID).Msg("failed broadcasting event")
		} else if s.metrics != nil {
			s.metrics.eventsSent.Inc()
		}
	}
	return nil
}

// Snapshot returns the server's current state: the registered client_id set
// plus the identifiers of the last event broadcast.
func (s *Server) Snapshot() event.State {
	s.stateMu.RLock()
	lastReqID, lastID := s.lastReqID, s.lastID
	s.stateMu.RUnlock()

	return event.State{
		Clients:   s.registry.clientIDs(),
		ServerID:  s.serverID,
		LastReqID: lastReqID,
		LastID:    lastID,
	}
}

// Close ends every subscription's channel, stops accepting new connections,
// and shuts down the transport. If callback is provided it runs after the
// listening socket has closed.
func (s *Server) Close(callback ...func()) error {
	err := s.transport.Close()
	for _, cb := range callback {
		cb()
	}
	return err
}
