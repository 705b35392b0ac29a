// Package client implements the streaming client: a connection-lifecycle
// finite state machine that maintains a durable, auto-reconnecting
// subscription against a subscription server.
package client

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/node-fast-messages/event"
	"github.com/TritonDataCenter/node-fast-messages/fast"
)

type state string

const (
	stateStopped         state = "stopped"
	stateConnecting      state = "connecting"
	stateConnectingError state = "connecting.error"
	stateConnected       state = "connected"
	stateStarted         state = "started"
	stateStartedWaiting  state = "started.waiting"
	stateStartedReady    state = "started.ready"
	stateRestart         state = "restart"
	stateClosing         state = "closing"
)

// Client is a single durable subscription against a subscription server. Its
// lifecycle is driven entirely by the FSM in fsm.go; this type exposes only
// the public entry points Connect, Start, Close, and Ping, plus State for
// observing the current FSM state.
type Client struct {
	clientID string
	host     string
	port     int
	log      zerolog.Logger
	handlers Handlers

	sig chan signal

	stateMu sync.RWMutex
	state   state

	// Everything below is owned exclusively by the FSM goroutine (run/
	// dispatch and the enter* functions in fsm.go) and is never read or
	// written from any other goroutine.
	gen            int
	attempt        int
	emittedConnect bool
	emittedStart   bool
	conn           net.Conn
	rpc            *fast.Client
	stream         *fast.ClientStream
	serverState    *event.State
	dialCancel     context.CancelFunc
	backoffTimer   *time.Timer
}

// New constructs a Client targeting host:port under the given client_id. The
// FSM starts in stopped; call Connect to begin.
func New(clientID, host string, port int, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, ErrClientIDRequired
	}
	o, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		clientID: clientID,
		host:     host,
		port:     port,
		log:      o.logger,
		handlers: o.handlers,
		sig:      make(chan signal, 16),
		state:    stateStopped,
	}
	go c.run()
	return c, nil
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// State returns the FSM's current state name, for observability and tests.
func (c *Client) State() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return string(c.state)
}

func (c *Client) isState(s state) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state == s
}

// Connect begins the connection lifecycle. Permitted only in stopped.
func (c *Client) Connect() {
	if !c.isState(stateStopped) {
		panic("client: connect() called outside the stopped state")
	}
	c.sig <- signal{kind: sigConnect}
}

// Start requests that the FSM establish the messages subscription. Permitted
// only in connected; after a reconnect this happens automatically and Start
// need not (and must not) be called again.
func (c *Client) Start() {
	if !c.isState(stateConnected) {
		panic("client: start() called outside the connected state")
	}
	c.sig <- signal{kind: sigStart}
}

// Close tears the client down, routing the FSM to stopped from whatever
// state it is currently in. Permitted in any state except stopped.
func (c *Client) Close() {
	if c.isState(stateStopped) {
		panic("client: close() called while already stopped")
	}
	c.sig <- signal{kind: sigClose}
}

// Ping issues a one-shot liveness probe and invokes callback exactly once
// with its result. If the FSM has not yet reached connected or later,
// callback is invoked asynchronously with ErrStreamNotConnected. Permitted
// whenever the FSM is not stopped.
func (c *Client) Ping(callback func(error)) {
	if c.isState(stateStopped) {
		panic("client: ping() called while stopped")
	}
	c.sig <- signal{kind: sigPing, pingCallback: callback}
}
