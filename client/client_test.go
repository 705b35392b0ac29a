package client_test

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/node-fast-messages/client"
	"github.com/TritonDataCenter/node-fast-messages/event"
	"github.com/TritonDataCenter/node-fast-messages/server"
)

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func startTestServer(t *testing.T) (*server.Server, string, int) {
	t.Helper()
	s, err := server.New("S")
	require.NoError(t, err)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	t.Cleanup(func() { s.Close() })

	host, portStr, err := net.SplitHostPort(s.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return s, host, port
}

// recorder collects lifecycle callback invocations under a mutex so tests can
// assert on them without racing the FSM goroutine.
type recorder struct {
	mu         sync.Mutex
	connects   int
	starts     int
	closes     int
	messages   []event.Event
	stateLog   []string
}

func (r *recorder) handlers() client.Handlers {
	return client.Handlers{
		OnConnect: func() {
			r.mu.Lock()
			r.connects++
			r.mu.Unlock()
		},
		OnStart: func() {
			r.mu.Lock()
			r.starts++
			r.mu.Unlock()
		},
		OnMessage: func(e event.Event) {
			r.mu.Lock()
			r.messages = append(r.messages, e)
			r.mu.Unlock()
		},
		OnClose: func() {
			r.mu.Lock()
			r.closes++
			r.mu.Unlock()
		},
		OnStateChanged: func(s string) {
			r.mu.Lock()
			r.stateLog = append(r.stateLog, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() (connects, starts, closes int, messages []event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, r.starts, r.closes, append([]event.Event(nil), r.messages...)
}

func (r *recorder) lastState() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stateLog) == 0 {
		return ""
	}
	return r.stateLog[len(r.stateLog)-1]
}

// S1 — a client that connects and starts against a running server receives
// broadcast events with server_id stamped.
func TestConnectStartReceivesMessages(t *testing.T) {
	srv, host, port := startTestServer(t)
	rec := &recorder{}

	c, err := client.New("client-a", host, port, client.WithHandlers(rec.handlers()))
	require.NoError(t, err)
	c.Connect()

	require.Eventually(t, func() bool { return c.State() == "connected" }, 2*time.Second, 5*time.Millisecond)
	c.Start()

	require.Eventually(t, func() bool { return c.State() == "started.ready" }, 2*time.Second, 5*time.Millisecond)

	id := int64(4)
	require.NoError(t, srv.Send(event.Event{ID: &id, ReqID: "R", Name: "update_name", Value: "foo"}))

	require.Eventually(t, func() bool {
		_, _, _, msgs := rec.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	connects, starts, _, msgs := rec.snapshot()
	require.Equal(t, 1, connects)
	require.Equal(t, 1, starts)
	require.Len(t, msgs, 1)
	require.Equal(t, "update_name", msgs[0].Name)
	require.Equal(t, "foo", msgs[0].Value)
	require.Equal(t, "R", msgs[0].ReqID)
	require.Equal(t, "S", msgs[0].ServerID)
	require.Equal(t, int64(4), *msgs[0].ID)

	c.Close()
	require.Eventually(t, func() bool {
		_, _, closes, _ := rec.snapshot()
		return closes == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// S2 — ping on a live client completes without error.
func TestPingOnLiveClient(t *testing.T) {
	_, host, port := startTestServer(t)
	c, err := client.New("client-a", host, port)
	require.NoError(t, err)
	c.Connect()
	require.Eventually(t, func() bool { return c.State() == "connected" }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	c.Ping(func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ping callback never fired")
	}
}

// S3 — ping on a client that is trying to reach an unreachable port (so has
// no RPC connection yet) fails with the exact error string, and a subsequent
// close still emits close.
func TestPingWhenNotConnected(t *testing.T) {
	rec := &recorder{}
	c, err := client.New("client-a", "127.0.0.1", 1, client.WithHandlers(rec.handlers()))
	require.NoError(t, err)
	c.Connect()
	require.Eventually(t, func() bool { return c.State() != "stopped" }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	c.Ping(func(err error) { done <- err })

	select {
	case err := <-done:
		require.EqualError(t, err, "stream not connected")
	case <-time.After(2 * time.Second):
		t.Fatal("ping callback never fired")
	}

	c.Close()
	require.Eventually(t, func() bool {
		_, _, closes, _ := rec.snapshot()
		return closes == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectOutsideStoppedPanics(t *testing.T) {
	_, host, port := startTestServer(t)
	c, err := client.New("client-a", host, port)
	require.NoError(t, err)
	c.Connect()
	require.Eventually(t, func() bool { return c.State() == "connected" }, 2*time.Second, 5*time.Millisecond)

	require.Panics(t, func() { c.Connect() })
}

func TestStartOutsideConnectedPanics(t *testing.T) {
	c, err := client.New("client-a", "127.0.0.1", 1)
	require.NoError(t, err)
	require.Panics(t, func() { c.Start() })
}

func TestCloseWhileStoppedPanics(t *testing.T) {
	c, err := client.New("client-a", "127.0.0.1", 1)
	require.NoError(t, err)
	require.Panics(t, func() { c.Close() })
}

// Invariant 4 — connect/start/close each fire at most/exactly once across a
// client's lifetime.
func TestLifecycleEventsFireAtMostOnce(t *testing.T) {
	srv, host, port := startTestServer(t)
	rec := &recorder{}
	c, err := client.New("client-a", host, port, client.WithHandlers(rec.handlers()))
	require.NoError(t, err)
	c.Connect()
	require.Eventually(t, func() bool { return c.State() == "connected" }, 2*time.Second, 5*time.Millisecond)
	c.Start()
	require.Eventually(t, func() bool { return c.State() == "started.ready" }, 2*time.Second, 5*time.Millisecond)

	id := int64(1)
	require.NoError(t, srv.Send(event.Event{ID: &id, Name: "x", Value: 1}))
	require.NoError(t, srv.Send(event.Event{ID: &id, Name: "y", Value: 2}))

	require.Eventually(t, func() bool {
		_, _, _, msgs := rec.snapshot()
		return len(msgs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	c.Close()
	require.Eventually(t, func() bool {
		_, _, closes, _ := rec.snapshot()
		return closes == 1
	}, 2*time.Second, 5*time.Millisecond)

	connects, starts, closes, _ := rec.snapshot()
	require.Equal(t, 1, connects)
	require.Equal(t, 1, starts)
	require.Equal(t, 1, closes)
}
