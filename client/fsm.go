package client

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/TritonDataCenter/node-fast-messages/event"
	"github.com/TritonDataCenter/node-fast-messages/fast"
)

type signalKind int

const (
	sigConnect signalKind = iota
	sigStart
	sigClose
	sigPing
	sigTCPConnected
	sigTCPError
	sigBackoffFired
	sigSyncFrame
	sigFrame
	sigStreamEnded
)

// signal is the single event type the FSM's control goroutine dispatches.
// gen ties a signal back to the connection attempt that produced it, so a
// stale signal from an attempt the FSM has already abandoned (via close or
// restart) is dropped instead of corrupting the current state.
type signal struct {
	kind signalKind

	gen  int
	err  error
	conn net.Conn
	data json.RawMessage

	pingCallback func(error)
}

// run is the FSM's single control goroutine: every transition, every
// callback invocation that touches FSM-owned state, happens here and only
// here, so no two transitions ever execute concurrently for one client.
func (c *Client) run() {
	for sig := range c.sig {
		c.dispatch(sig)
	}
}

func (c *Client) dispatch(sig signal) {
	switch sig.kind {
	case sigConnect:
		if c.state != stateStopped {
			return
		}
		c.enterConnecting()

	case sigStart:
		if c.state != stateConnected {
			return
		}
		c.enterStarted()

	case sigClose:
		if c.state == stateStopped {
			return
		}
		c.enterClosing()

	case sigPing:
		c.handlePing(sig.pingCallback)

	case sigTCPConnected:
		if sig.gen != c.gen || c.state != stateConnecting {
			if sig.conn != nil {
				sig.conn.Close()
			}
			return
		}
		c.conn = sig.conn
		c.enterConnected()

	case sigTCPError:
		if sig.gen != c.gen || c.state != stateConnecting {
			return
		}
		c.log.Err(sig.err).Int("attempt", c.attempt).Msg("tcp connect failed")
		c.enterConnectingError()

	case sigBackoffFired:
		if sig.gen != c.gen || c.state != stateConnectingError {
			return
		}
		c.enterConnecting()

	case sigSyncFrame:
		if sig.gen != c.gen || c.state != stateStartedWaiting {
			return
		}
		var sync event.Sync
		if err := json.Unmarshal(sig.data, &sync); err != nil {
			c.log.Err(err).Msg("failed decoding sync frame")
		}
		state := event.State{ServerID: sync.ServerID, LastReqID: sync.LastReqID, LastID: sync.LastID}
		c.serverState = &state
		c.enterStartedReady()

	case sigFrame:
		if sig.gen != c.gen || c.state != stateStartedReady {
			return
		}
		var e event.Event
		if err := json.Unmarshal(sig.data, &e); err != nil {
			c.log.Err(err).Msg("failed decoding message frame")
			return
		}
		c.handlers.fireMessage(e)

	case sigStreamEnded:
		if sig.gen != c.gen {
			return
		}
		switch c.state {
		case stateStarted, stateStartedWaiting, stateStartedReady:
			c.enterRestart()
		}
	}
}

func (c *Client) transition(s state) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.handlers.fireStateChanged(string(s))
}

// --- state enter actions -----------------------------------------------

func (c *Client) enterConnecting() {
	c.gen++
	gen := c.gen
	c.attempt++
	c.transition(stateConnecting)

	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	go c.dialTCP(ctx, gen)
}

func (c *Client) dialTCP(ctx context.Context, gen int) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		c.sig <- signal{kind: sigTCPError, gen: gen, err: err}
		return
	}
	c.sig <- signal{kind: sigTCPConnected, gen: gen, conn: conn}
}

func (c *Client) enterConnectingError() {
	c.transition(stateConnectingError)
	delay, level := backoffFor(c.attempt)
	c.log.WithLevel(level).Int("attempt", c.attempt).Dur("delay", delay).Msg("scheduling reconnect")

	gen := c.gen
	c.backoffTimer = time.AfterFunc(delay, func() {
		c.sig <- signal{kind: sigBackoffFired, gen: gen}
	})
}

func (c *Client) enterConnected() {
	c.transition(stateConnected)

	if tcpConn, ok := c.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(10 * time.Second)
	}
	c.rpc = fast.NewClient(c.conn)

	if c.emittedConnect {
		// Sticky streaming intent: a reconnect resumes streaming without a
		// fresh Start() call.
		c.enterStarted()
		return
	}
	c.emittedConnect = true
	c.handlers.fireConnect()
}

func (c *Client) enterStarted() {
	c.transition(stateStarted)

	stream, err := c.rpc.CallStream("messages", map[string]any{
		"client_id": c.clientID,
		"version":   event.ProtocolVersion,
	})
	if err != nil {
		c.log.Err(err).Msg("failed issuing messages RPC")
		c.enterRestart()
		return
	}
	c.stream = stream

	gen := c.gen
	go c.recvLoop(stream, gen)
	c.enterStartedWaiting()
}

func (c *Client) enterStartedWaiting() {
	c.transition(stateStartedWaiting)
}

func (c *Client) enterStartedReady() {
	c.transition(stateStartedReady)
	if !c.emittedStart {
		c.emittedStart = true
		c.handlers.fireStart()
	}
}

func (c *Client) enterRestart() {
	c.transition(stateRestart)
	c.teardownConnection()
	c.attempt = 0
	c.enterConnecting()
}

func (c *Client) enterClosing() {
	c.transition(stateClosing)
	c.gen++ // invalidate anything still in flight from the abandoned attempt

	if c.backoffTimer != nil {
		c.backoffTimer.Stop()
		c.backoffTimer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.teardownConnection()

	c.transition(stateStopped)
	go c.handlers.fireClose()
}

func (c *Client) teardownConnection() {
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stream = nil
}

func (c *Client) recvLoop(stream *fast.ClientStream, gen int) {
	first := true
	for {
		data, err := stream.Recv()
		if err != nil {
			c.sig <- signal{kind: sigStreamEnded, gen: gen, err: err}
			return
		}
		if first {
			first = false
			c.sig <- signal{kind: sigSyncFrame, gen: gen, data: data}
			continue
		}
		c.sig <- signal{kind: sigFrame, gen: gen, data: data}
	}
}

func (c *Client) handlePing(callback func(error)) {
	rpc := c.rpc
	if rpc == nil {
		if callback != nil {
			go callback(ErrStreamNotConnected)
		}
		return
	}
	go func() {
		_, err := rpc.Call("ping", map[string]any{})
		if callback != nil {
			callback(err)
		}
	}()
}
