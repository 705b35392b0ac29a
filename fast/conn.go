package fast

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"
)

const maxFrameSize = 8 * 1024 * 1024

// frameConn serializes one frame per line over a net.Conn. Writes are
// mutex-guarded so unary responses and stream data chunks generated by
// different goroutines never interleave mid-line.
type frameConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

func newFrameConn(conn net.Conn) *frameConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &frameConn{conn: conn, scanner: scanner}
}

func (c *frameConn) readFrame() (*frame, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var f frame
	if err := json.Unmarshal(c.scanner.Bytes(), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *frameConn) writeFrame(f *frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}
