package server

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pipechat/pipechat/pkg/database"
	"github.com/pipechat/pipechat/pkg/protocol"
)

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

func init() {
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
}

// InitFileLogging mirrors error logging into errors.log next to the
// configured database. Called once from main, before the server starts;
// falls back to stderr-only if the file cannot be opened.
func InitFileLogging(config TOMLConfig) {
	dbPath, err := expandPath(config.Server.DatabasePath)
	if err != nil {
		errorLog.Printf("Could not resolve data directory: %v", err)
		return
	}
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		errorLog.Printf("Could not create data directory: %v", err)
		return
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		errorLog.Printf("Could not open errors.log: %v", err)
		return
	}
	errorLog = log.New(io.MultiWriter(os.Stderr, f), "ERROR: ", log.LstdFlags)
}

// Server is the pipechat session/protocol engine: it accepts byte-stream
// connections, authenticates users, and routes text, room, and file-transfer
// traffic between them.
type Server struct {
	db       *database.DB
	presence *Presence
	rooms    *RoomRegistry
	files    *FileCoordinator
	config   TOMLConfig
	metrics  *Metrics

	listener  net.Listener
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startTime time.Time
}

// NewServer creates a server instance backed by the SQLite database at the
// configured path. The room membership mirror is rebuilt from storage.
func NewServer(config TOMLConfig) (*Server, error) {
	dbPath, err := expandPath(config.Server.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tempDir, err := expandPath(config.Server.TempDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	metrics := NewMetrics()
	rooms := NewRoomRegistry(db)
	if err := rooms.Rebuild(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to rebuild room registry: %w", err)
	}

	return &Server{
		db:        db,
		presence:  NewPresence(metrics),
		rooms:     rooms,
		files:     NewFileCoordinator(tempDir, metrics),
		config:    config,
		metrics:   metrics,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}, nil
}

// EnableDebugLogging turns on per-frame debug logging to stderr.
func (s *Server) EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Start begins listening for connections. It returns once the listener is
// bound; connections are handled on background goroutines.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("Listening on %s", listener.Addr())

	// Internal metrics server - never expose publicly
	if s.config.Server.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", s.metrics.Handler())
			mux.HandleFunc("/health", s.healthHandler)
			metricsAddr := fmt.Sprintf(":%d", s.config.Server.MetricsPort)
			log.Printf("Metrics server listening on %s (/metrics, /health)", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Public websocket bridge
	if s.config.Server.HTTPPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/ws", s.HandleWebSocket)
			wsAddr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
			log.Printf("WebSocket bridge listening on %s (/ws)", wsAddr)
			if err := http.ListenAndServe(wsAddr, mux); err != nil {
				log.Printf("WebSocket server error: %v", err)
			}
		}()
	}

	if s.config.Limits.SessionTimeoutSeconds > 0 {
		s.wg.Add(1)
		go s.sessionSweepLoop()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address (useful with port 0).
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "ok sessions=%d uptime=%s\n",
		s.presence.Count(), time.Since(s.startTime).Round(time.Second))
}

// Stop gracefully stops the server: stop accepting, notify clients, close
// sessions, wait for goroutines, close storage.
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	s.closeOnce.Do(func() { close(s.shutdown) })

	if s.listener != nil {
		s.listener.Close()
	}

	for _, sess := range s.presence.Authenticated() {
		_ = sess.Conn.SendLine("SERVER_SHUTDOWN|Server shutting down")
	}
	s.presence.CloseAll()

	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		log.Printf("Error during database close: %v", err)
		return err
	}

	log.Println("Graceful shutdown complete")
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}
		// Tracked so Stop waits for in-flight dispatches before closing storage
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection registers a session for the connection and runs its read
// loop. It works for any net.Conn: TCP connections and websocket bridges.
func (s *Server) handleConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := s.presence.Track(conn)
	sess.Conn.SetWriteTimeout(time.Duration(s.config.Limits.WriteTimeoutSeconds) * time.Second)
	sess.touch(time.Now().UnixMilli())
	debugLog.Printf("New connection from %s (session %d)", sess.RemoteAddr, sess.ID)

	s.readLoop(sess)
}

// readLoop is the session's single blocking read loop. Text frames go to the
// command router; FileChunk frames feed the session's active upload. Any read
// failure is terminal for the session.
func (s *Server) readLoop(sess *Session) {
	defer s.removeSession(sess.ID)

	for {
		frame, err := sess.Conn.ReadFrame()
		if err != nil {
			if err == io.EOF {
				debugLog.Printf("Session %d: client disconnected", sess.ID)
			} else {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}

		sess.touch(time.Now().UnixMilli())

		switch frame.Type {
		case protocol.FrameText:
			line := string(frame.Payload)
			debugLog.Printf("Session %d ← %s", sess.ID, line)
			s.dispatch(sess, line)

		case protocol.FrameFileChunk:
			s.handleFileChunk(sess, frame.Payload)

		default:
			debugLog.Printf("Session %d: unknown frame type 0x%02X, discarding", sess.ID, frame.Type)
		}
	}
}

// handleFileChunk appends an uploaded chunk to the session's active upload.
// Chunks arriving without an active upload are discarded with a warning.
func (s *Server) handleFileChunk(sess *Session, chunk []byte) {
	sf := sess.ActiveUpload()
	if sf == nil {
		errorLog.Printf("Session %d: FileChunk without active upload, discarding %d bytes", sess.ID, len(chunk))
		return
	}

	complete, err := s.files.Append(sf, chunk)
	if err != nil {
		errorLog.Printf("Session %d: upload append failed for %s: %v", sess.ID, sf.ID, err)
		s.files.Abort(sf)
		sess.SetActiveUpload(nil)
		s.sendLine(sess, "ERROR|FILE_UPLOAD_FAILED")
		return
	}
	if !complete {
		return
	}

	sess.SetActiveUpload(nil)
	log.Printf("[FILE] upload complete %s (%s, %d bytes) from %s",
		sf.Filename, sf.ID, sf.Size, sf.Sender)
	s.sendLine(sess, "FILE_STORED|"+sf.ID)

	offer := fmt.Sprintf("FILE_OFFER|%s|%s|%s|%d", sf.ID, sf.Sender, sf.Filename, sf.Size)
	for _, username := range sf.Receivers {
		if target, ok := s.presence.Get(username); ok {
			s.sendLine(target, offer)
		}
	}
}

// removeSession drops a session, cleans up any incomplete upload, and pushes
// an updated online list if the session was authenticated.
func (s *Server) removeSession(sessionID uint64) {
	sess := s.presence.Remove(sessionID)
	if sess == nil {
		return
	}

	if sf := sess.ActiveUpload(); sf != nil {
		s.files.Abort(sf)
		sess.SetActiveUpload(nil)
		log.Printf("[CLEANUP] unfinished upload removed: %s", sf.Filename)
	}

	if sess.IsAuthenticated() {
		debugLog.Printf("Session %d (%s) disconnected", sess.ID, sess.Username())
		s.broadcastUsers()
	}
}

// broadcastUsers pushes the online-username list to every authenticated
// session. Failed targets are evicted and the list re-broadcast until every
// send succeeds against the surviving set.
func (s *Server) broadcastUsers() {
	for {
		line := "USERS|" + strings.Join(s.presence.OnlineUsers(), ",")
		dead := s.presence.Broadcast(line)
		if len(dead) == 0 {
			return
		}
		for _, id := range dead {
			if sess := s.presence.Remove(id); sess != nil {
				if sf := sess.ActiveUpload(); sf != nil {
					s.files.Abort(sf)
				}
			}
		}
	}
}

// broadcastLine sends a line to every authenticated session, evicting targets
// whose connection is already dead.
func (s *Server) broadcastLine(line string) {
	dead := s.presence.Broadcast(line)
	if len(dead) == 0 {
		return
	}
	for _, id := range dead {
		s.presence.Remove(id)
	}
	s.broadcastUsers()
}

// sendLine writes one reply line to a session, logging failures. The write is
// serialized by the session's SafeConn.
func (s *Server) sendLine(sess *Session, line string) {
	if err := sess.Conn.SendLine(line); err != nil {
		errorLog.Printf("Session %d: send failed: %v", sess.ID, err)
		// The write may have left a partial frame on the wire; close so the
		// session's read loop reaps it.
		sess.Conn.Close()
		return
	}
	if s.metrics != nil {
		s.metrics.RecordLineSent()
	}
}

// dbError logs a storage error and reports it to the client without crashing
// the session.
func (s *Server) dbError(sess *Session, operation string, err error) {
	errorLog.Printf("Session %d: %s failed: %v", sess.ID, operation, err)
	s.sendLine(sess, "ERROR|Database error")
}

// sessionSweepLoop periodically closes sessions idle beyond the configured
// timeout.
func (s *Server) sessionSweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.sweepStaleSessions()
		}
	}
}

func (s *Server) sweepStaleSessions() {
	timeout := time.Duration(s.config.Limits.SessionTimeoutSeconds) * time.Second
	cutoff := time.Now().Add(-timeout).UnixMilli()

	for _, sess := range s.presence.All() {
		if sess.lastActive() < cutoff {
			debugLog.Printf("Closing stale session %d (inactive for %v)", sess.ID, timeout)
			s.removeSession(sess.ID)
		}
	}
}
