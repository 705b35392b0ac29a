package fast

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// UnaryHandler answers a single request frame with a single response frame.
type UnaryHandler func(ctx context.Context, args []json.RawMessage) (any, error)

// StreamHandler answers a single request frame with zero or more data frames
// followed by one end frame. The handler should return when ctx is canceled,
// which happens as soon as the underlying connection goes away.
type StreamHandler func(ctx context.Context, args []json.RawMessage, stream *Stream) error

// Stream lets a StreamHandler push data frames to its caller.
type Stream struct {
	conn *frameConn
	id   uint64
}

// Send marshals v and writes it as the next data frame of this stream.
func (s *Stream) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.writeFrame(&frame{Type: frameData, ID: s.id, Data: data})
}

// Server accepts connections and dispatches request frames to registered
// unary and streaming handlers, one goroutine per connection.
type Server struct {
	mu       sync.RWMutex
	unary    map[string]UnaryHandler
	streamed map[string]StreamHandler

	listener  net.Listener
	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer returns a Server with no handlers registered and no listener bound.
func NewServer() *Server {
	return &Server{
		unary:    make(map[string]UnaryHandler),
		streamed: make(map[string]StreamHandler),
		closing:  make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// RegisterUnary binds name to a unary request/response handler.
func (s *Server) RegisterUnary(name string, h UnaryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unary[name] = h
}

// RegisterStream binds name to a streaming handler.
func (s *Server) RegisterStream(name string, h StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamed[name] = h
}

// Listen binds addr and starts accepting connections in the background. It
// fails with ErrServerClosed if the server has already been shut down.
func (s *Server) Listen(addr string) error {
	select {
	case <-s.closing:
		return ErrServerClosed
	default:
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener's bound address. Only valid after Listen succeeds.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		// Close may have accepted this connection's SYN before it closed the
		// listener; drop it instead of handing it to a handler Close no
		// longer waits for.
		select {
		case <-s.closing:
			conn.Close()
			return
		default:
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer s.wg.Done()

	s.connsMu.Lock()
	s.conns[netConn] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, netConn)
		s.connsMu.Unlock()
	}()

	conn := newFrameConn(netConn)
	ctx, cancel := context.WithCancel(context.Background())
	var streamWG sync.WaitGroup

	for {
		f, err := conn.readFrame()
		if err != nil {
			break
		}
		if f.Type != frameRequest {
			continue
		}

		s.mu.RLock()
		uh, isUnary := s.unary[f.Method]
		sh, isStream := s.streamed[f.Method]
		s.mu.RUnlock()

		switch {
		case isUnary:
			go s.runUnary(ctx, conn, f, uh)
		case isStream:
			streamWG.Add(1)
			go func(f *frame) {
				defer streamWG.Done()
				s.runStream(ctx, conn, f, sh)
			}(f)
		default:
			_ = conn.writeFrame(&frame{
				Type:  frameResponse,
				ID:    f.ID,
				Error: fmt.Sprintf("%s: %q", ErrUnknownMethod, f.Method),
			})
		}
	}

	cancel()
	streamWG.Wait()
	conn.Close()
}

func (s *Server) runUnary(ctx context.Context, conn *frameConn, f *frame, h UnaryHandler) {
	resp := &frame{Type: frameResponse, ID: f.ID}
	result, err := h(ctx, f.Args)
	if err != nil {
		resp.Error = err.Error()
	} else if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Data = data
		}
	}
	_ = conn.writeFrame(resp)
}

func (s *Server) runStream(ctx context.Context, conn *frameConn, f *frame, h StreamHandler) {
	stream := &Stream{conn: conn, id: f.ID}
	end := &frame{Type: frameEnd, ID: f.ID}
	if err := h(ctx, f.Args, stream); err != nil {
		end.Error = err.Error()
	}
	_ = conn.writeFrame(end)
}

// Close stops accepting new connections by closing the listener, closes every
// open connection (which unblocks their handlers via context cancellation),
// then waits for all of them to finish. Calling Close more than once is safe;
// the second and later calls are no-ops.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.listener != nil {
			err = s.listener.Close()
		}

		s.connsMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()

		s.wg.Wait()
	})
	return err
}
