package fast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Client is a connection to a Server: it multiplexes unary calls and
// streaming calls over a single net.Conn by frame ID.
type Client struct {
	conn    *frameConn
	netConn net.Conn

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]chan *frame
	streams map[uint64]chan *frame

	closed chan struct{}
}

// Dial opens a TCP connection to addr and wraps it as a Client.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(netConn), nil
}

// NewClient wraps an already-established connection as a Client and starts
// reading frames from it in the background. Callers that need to tune the
// connection (e.g. TCP keepalive) should do so before calling NewClient.
func NewClient(netConn net.Conn) *Client {
	c := &Client{
		conn:    newFrameConn(netConn),
		netConn: netConn,
		pending: make(map[uint64]chan *frame),
		streams: make(map[uint64]chan *frame),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) nextFrameID() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		f, err := c.conn.readFrame()
		if err != nil {
			return
		}
		switch f.Type {
		case frameResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
				close(ch)
			}
		case frameData, frameEnd:
			c.mu.Lock()
			ch, ok := c.streams[f.ID]
			if ok && f.Type == frameEnd {
				delete(c.streams, f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- f
				if f.Type == frameEnd {
					close(ch)
				}
			}
		}
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	pending := c.pending
	streams := c.streams
	c.pending = make(map[uint64]chan *frame)
	c.streams = make(map[uint64]chan *frame)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, ch := range streams {
		close(ch)
	}
	close(c.closed)
}

// Call issues a unary request and blocks for its response.
func (c *Client) Call(method string, args ...any) (json.RawMessage, error) {
	id := c.nextFrameID()
	ch := make(chan *frame, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	raw, err := marshalArgs(args)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	if err := c.conn.writeFrame(&frame{Type: frameRequest, ID: id, Method: method, Args: raw}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	f, ok := <-ch
	if !ok {
		return nil, ErrConnectionClosed
	}
	if f.Error != "" {
		return nil, errors.New(f.Error)
	}
	return f.Data, nil
}

// ClientStream delivers the data frames of one in-flight streaming call.
type ClientStream struct {
	ch <-chan *frame
}

// Recv blocks for the next data frame. It returns io.EOF once the server
// sends a clean end frame, or the server's error if the end frame carried one.
func (s *ClientStream) Recv() (json.RawMessage, error) {
	f, ok := <-s.ch
	if !ok {
		return nil, ErrConnectionClosed
	}
	if f.Type == frameEnd {
		if f.Error != "" {
			return nil, errors.New(f.Error)
		}
		return nil, io.EOF
	}
	return f.Data, nil
}

// CallStream issues a streaming request and returns a handle to receive its
// data frames. It does not block for the first frame.
func (c *Client) CallStream(method string, args ...any) (*ClientStream, error) {
	id := c.nextFrameID()
	ch := make(chan *frame, 32)

	c.mu.Lock()
	c.streams[id] = ch
	c.mu.Unlock()

	raw, err := marshalArgs(args)
	if err != nil {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, err
	}

	if err := c.conn.writeFrame(&frame{Type: frameRequest, ID: id, Method: method, Args: raw}); err != nil {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, err
	}

	return &ClientStream{ch: ch}, nil
}

// Done is closed once the connection's read loop has exited, including after
// a call to Close.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Close tears down the underlying connection. Any calls or stream receives
// blocked on it unblock with ErrConnectionClosed.
func (c *Client) Close() error {
	return c.netConn.Close()
}
