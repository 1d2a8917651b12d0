package server

import (
	"net"
	"sync"
	"time"

	"github.com/pipechat/pipechat/pkg/protocol"
)

// defaultWriteTimeout bounds how long a single frame write may block. A
// receiver that cannot drain a frame within this window is treated as dead by
// the fan-out paths, so one stalled connection never holds up delivery to the
// others.
const defaultWriteTimeout = 10 * time.Second

// SafeConn wraps a net.Conn with automatic write synchronization to prevent
// concurrent writes from corrupting the wire protocol frames.
//
// Multiple goroutines (the session's own reply path, broadcast senders, and
// file delivery) may try to write to the same connection simultaneously.
// Without synchronization their frame bytes interleave on the wire, corrupting
// the framing. SafeConn encapsulates both the connection and its write mutex,
// making it impossible to write without proper synchronization.
//
// Every write carries a deadline. A write that times out may have left a
// partial frame on the wire, so the connection is unusable afterwards and the
// caller must evict the session.
type SafeConn struct {
	conn         net.Conn
	mu           sync.Mutex // Protects writes to conn
	writeTimeout time.Duration
}

// NewSafeConn wraps a net.Conn with write synchronization
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn, writeTimeout: defaultWriteTimeout}
}

// SetWriteTimeout overrides the per-write deadline. Zero disables it.
func (sc *SafeConn) SetWriteTimeout(d time.Duration) {
	sc.mu.Lock()
	sc.writeTimeout = d
	sc.mu.Unlock()
}

// armDeadline sets the write deadline for one write. Callers hold sc.mu.
func (sc *SafeConn) armDeadline() {
	if sc.writeTimeout > 0 {
		sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout))
	}
}

// WriteFrame encodes and sends a protocol frame with automatic write
// synchronization. This is the only way to write frames to the connection -
// the raw conn is private.
func (sc *SafeConn) WriteFrame(frame *protocol.Frame) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.armDeadline()
	return protocol.WriteFrame(sc.conn, frame)
}

// SendLine sends a pipe-delimited line as a Text frame.
func (sc *SafeConn) SendLine(line string) error {
	return sc.WriteFrame(protocol.TextFrame(line))
}

// WriteBytes writes raw pre-encoded frame bytes with synchronization.
// Used for broadcasts where the frame is encoded once and fanned out.
func (sc *SafeConn) WriteBytes(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.armDeadline()
	_, err := sc.conn.Write(data)
	return err
}

// ReadFrame reads a protocol frame from the connection.
// Reads don't need write synchronization.
func (sc *SafeConn) ReadFrame() (*protocol.Frame, error) {
	return protocol.ReadFrame(sc.conn)
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
