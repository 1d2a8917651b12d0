package server

import (
	"net"
	"sync"
	"sync/atomic"
)

// Session represents one client connection. It is created on accept,
// authenticated by the first successful AUTH, and destroyed on disconnect.
type Session struct {
	ID         uint64
	Conn       *SafeConn
	RemoteAddr string

	mu           sync.RWMutex
	username     string      // empty until AUTH succeeds; never changes after
	activeUpload *StoredFile // at most one inbound upload at a time

	lastActivity atomic.Int64 // unix millis of the last received frame
}

func newSession(id uint64, conn net.Conn) *Session {
	sess := &Session{
		ID:         id,
		Conn:       NewSafeConn(conn),
		RemoteAddr: conn.RemoteAddr().String(),
	}
	return sess
}

// Username returns the authenticated username, or "" before AUTH.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// IsAuthenticated reports whether the session has completed AUTH.
func (s *Session) IsAuthenticated() bool {
	return s.Username() != ""
}

func (s *Session) setUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// ActiveUpload returns the in-flight inbound upload, if any.
func (s *Session) ActiveUpload() *StoredFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeUpload
}

// SetActiveUpload binds (or with nil, unbinds) the session's inbound upload.
func (s *Session) SetActiveUpload(sf *StoredFile) {
	s.mu.Lock()
	s.activeUpload = sf
	s.mu.Unlock()
}

func (s *Session) touch(nowMillis int64) {
	s.lastActivity.Store(nowMillis)
}

func (s *Session) lastActive() int64 {
	return s.lastActivity.Load()
}
