package client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipechat/pipechat/pkg/protocol"
)

// fakeServer accepts one connection and answers each received Text frame with
// the next scripted reply line.
func fakeServer(t *testing.T, replies ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, reply := range replies {
			if _, err := protocol.ReadFrame(conn); err != nil {
				return
			}
			if err := protocol.SendText(conn, reply); err != nil {
				return
			}
		}
		// Hold the connection open once the script is exhausted; with no
		// replies the server must stay silent, not hang up.
		io.Copy(io.Discard, conn)
	}()
	return ln.Addr().String()
}

func TestLoginSuccess(t *testing.T) {
	addr := fakeServer(t, "AUTH|OK")

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Login("alice", "secret1A"))
}

func TestLoginFailure(t *testing.T) {
	addr := fakeServer(t, "AUTH|FAIL|Invalid credentials")

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.Login("alice", "wrong")
	assert.ErrorContains(t, err, "Invalid credentials")
}

func TestAuthSkipsInterleavedBroadcasts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := protocol.ReadFrame(conn); err != nil {
			return
		}
		// A presence broadcast can land before the auth reply
		protocol.SendText(conn, "USERS|bob,carol")
		protocol.SendText(conn, "AUTH|OK")
	}()

	c, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Register("alice", "secret1A"))
}

func TestRecvLineTimeout(t *testing.T) {
	addr := fakeServer(t) // never replies

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RecvLine(50 * time.Millisecond)
	require.Error(t, err)
	netErr, ok := err.(net.Error)
	require.True(t, ok)
	assert.True(t, netErr.Timeout())
}
