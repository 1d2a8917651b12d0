package server

import (
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pipechat/pipechat/pkg/protocol"
)

// ErrAlreadyOnline is returned when a second session tries to bind a username
// that already has an authenticated session.
var ErrAlreadyOnline = errors.New("user already logged in")

// Presence is the authoritative set of connected sessions. All sessions are
// tracked from accept; a session joins the authenticated set when AUTH binds
// a username to it. Usernames are compared case-insensitively.
type Presence struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session // all connected sessions
	byUser   map[string]*Session // lower(username) -> authenticated session
	nextID   uint64
	metrics  *Metrics
}

// NewPresence creates an empty presence registry.
func NewPresence(metrics *Metrics) *Presence {
	return &Presence{
		sessions: make(map[uint64]*Session),
		byUser:   make(map[string]*Session),
		nextID:   1,
		metrics:  metrics,
	}
}

// Track creates a session for a freshly accepted connection.
func (p *Presence) Track(conn net.Conn) *Session {
	id := atomic.AddUint64(&p.nextID, 1) - 1
	sess := newSession(id, conn)

	p.mu.Lock()
	p.sessions[id] = sess
	count := len(p.sessions)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordActiveSessions(count)
		p.metrics.RecordSessionCreated()
	}
	return sess
}

// Bind marks the session authenticated under username. A session's username,
// once set, never changes; a username can be bound to at most one session.
func (p *Presence) Bind(sess *Session, username string) error {
	key := strings.ToLower(username)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, taken := p.byUser[key]; taken {
		return ErrAlreadyOnline
	}
	sess.setUsername(username)
	p.byUser[key] = sess
	return nil
}

// Remove drops a session from the registry and closes its connection.
// Returns the removed session, or nil if it was already gone.
func (p *Presence) Remove(sessionID uint64) *Session {
	p.mu.Lock()
	sess, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.sessions, sessionID)
	if name := sess.Username(); name != "" {
		if cur := p.byUser[strings.ToLower(name)]; cur == sess {
			delete(p.byUser, strings.ToLower(name))
		}
	}
	count := len(p.sessions)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordActiveSessions(count)
		p.metrics.RecordSessionDisconnected()
	}

	sess.Conn.Close()
	return sess
}

// Get returns the authenticated session for a username, if online.
func (p *Presence) Get(username string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.byUser[strings.ToLower(username)]
	return sess, ok
}

// Authenticated returns a snapshot of all authenticated sessions.
func (p *Presence) Authenticated() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Session, 0, len(p.byUser))
	for _, sess := range p.byUser {
		out = append(out, sess)
	}
	return out
}

// All returns a snapshot of every tracked session, authenticated or not.
func (p *Presence) All() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		out = append(out, sess)
	}
	return out
}

// OnlineUsers returns the sorted list of authenticated usernames.
func (p *Presence) OnlineUsers() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.byUser))
	for _, sess := range p.byUser {
		names = append(names, sess.Username())
	}
	p.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of tracked sessions.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Broadcast sends a line to every authenticated session. Sends happen outside
// the registry lock against a snapshot so a slow receiver never stalls the
// registry, and each send is bounded by the connection's write deadline so a
// receiver that stops draining fails its write instead of blocking the
// fan-out. Returns the IDs of sessions whose writes failed; the caller is
// responsible for removing them and re-broadcasting presence.
func (p *Presence) Broadcast(line string) []uint64 {
	frameBytes, err := protocol.EncodeFrame(protocol.TextFrame(line))
	if err != nil {
		return nil
	}
	return p.broadcastBytes(p.Authenticated(), frameBytes)
}

func (p *Presence) broadcastBytes(targets []*Session, frameBytes []byte) []uint64 {
	var dead []uint64
	for _, sess := range targets {
		if err := sess.Conn.WriteBytes(frameBytes); err != nil {
			dead = append(dead, sess.ID)
			if p.metrics != nil {
				p.metrics.RecordBroadcastFailure()
			}
		} else if p.metrics != nil {
			p.metrics.RecordLineSent()
		}
	}
	return dead
}

// CloseAll closes every tracked session.
func (p *Presence) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sess := range p.sessions {
		sess.Conn.Close()
	}
	p.sessions = make(map[uint64]*Session)
	p.byUser = make(map[string]*Session)
}
