// Package client is a synchronous client for the pipechat wire protocol,
// used by the load generator and by integration tests. It reads and writes
// frames on the caller's goroutine; there is no background reader and no
// auto-reconnect.
package client

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pipechat/pipechat/pkg/protocol"
)

// Client is a single connection to a pipechat server. Sends and receives are
// each serialized by their own mutex so a Client may be shared between a
// sender and a receiver goroutine.
type Client struct {
	addr   string
	conn   net.Conn
	sendMu sync.Mutex
	recvMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Dial connects to a pipechat server.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Send writes one command line as a Text frame.
func (c *Client) Send(line string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.SendText(c.conn, line)
}

// SendChunk writes one FileChunk frame.
func (c *Client) SendChunk(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.WriteFrame(c.conn, protocol.ChunkFrame(data))
}

// Recv reads the next frame, waiting at most timeout (0 means no deadline).
func (c *Client) Recv(timeout time.Duration) (*protocol.Frame, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return protocol.ReadFrame(c.conn)
}

// RecvLine reads frames until a Text frame arrives and returns its payload.
// FileChunk frames encountered along the way are discarded.
func (c *Client) RecvLine(timeout time.Duration) (string, error) {
	for {
		frame, err := c.Recv(timeout)
		if err != nil {
			return "", err
		}
		if frame.Type == protocol.FrameText {
			return string(frame.Payload), nil
		}
	}
}

// Register registers a new account and authenticates as it.
func (c *Client) Register(username, password string) error {
	return c.auth("REGISTER", username, password)
}

// Login authenticates an existing account.
func (c *Client) Login(username, password string) error {
	return c.auth("LOGIN", username, password)
}

func (c *Client) auth(mode, username, password string) error {
	if err := c.Send(fmt.Sprintf("AUTH|%s|%s|%s", mode, username, password)); err != nil {
		return err
	}
	// The server may interleave USERS broadcasts from other sessions.
	for {
		line, err := c.RecvLine(10 * time.Second)
		if err != nil {
			return err
		}
		switch {
		case line == "AUTH|OK":
			return nil
		case strings.HasPrefix(line, "AUTH|FAIL|"):
			return fmt.Errorf("auth failed: %s", strings.TrimPrefix(line, "AUTH|FAIL|"))
		}
	}
}

// Addr returns the server address this client dialed.
func (c *Client) Addr() string {
	return c.addr
}
