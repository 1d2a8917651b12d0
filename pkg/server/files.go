package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pipechat/pipechat/pkg/protocol"
)

var (
	// ErrFileNotFound is returned when a file id is unknown or the caller is
	// not one of its intended receivers.
	ErrFileNotFound = errors.New("stored file not found")
	// ErrFileTooLarge is returned when a declared size exceeds the ceiling.
	ErrFileTooLarge = errors.New("file too large")
)

// StoredFile is a server-held record of a file mid-transit: the temp object
// holding its bytes plus per-receiver accept/deny progress.
type StoredFile struct {
	ID       string
	Sender   string
	Filename string
	Size     int64
	Path     string
	RoomName string // empty for direct transfers

	// Intended receivers in offer order; accepted/denied keyed by lowercase
	// username. The file is dropped exactly when
	// len(accepted)+len(denied) == len(Receivers).
	Receivers []string

	mu            sync.Mutex
	bytesUploaded int64
	spool         *os.File // open while uploading, nil once stored
	accepted      map[string]struct{}
	denied        map[string]struct{}
}

// BytesUploaded returns how many payload bytes have arrived so far.
func (sf *StoredFile) BytesUploaded() int64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.bytesUploaded
}

func (sf *StoredFile) isReceiver(username string) bool {
	for _, r := range sf.Receivers {
		if strings.EqualFold(r, username) {
			return true
		}
	}
	return false
}

// FileCoordinator manages store-and-forward file objects: upload spooling,
// offer fan-out bookkeeping, and temp cleanup once every receiver has either
// accepted or denied.
type FileCoordinator struct {
	tempDir string
	metrics *Metrics

	mu      sync.Mutex
	pending map[string]*StoredFile // fileID -> stored file (upload complete)
}

// NewFileCoordinator creates a coordinator spooling to tempDir.
func NewFileCoordinator(tempDir string, metrics *Metrics) *FileCoordinator {
	return &FileCoordinator{
		tempDir: tempDir,
		metrics: metrics,
		pending: make(map[string]*StoredFile),
	}
}

// Begin validates the declared size, allocates a fresh temp object and
// returns the StoredFile to bind as the sender session's active upload.
// Nothing is offered to receivers until the upload completes.
func (c *FileCoordinator) Begin(sender, filename string, size int64, receivers []string, roomName string) (*StoredFile, error) {
	if size <= 0 || size > protocol.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	if err := os.MkdirAll(c.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(c.tempDir, id+"_"+filepath.Base(filename))
	spool, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &StoredFile{
		ID:        id,
		Sender:    sender,
		Filename:  filename,
		Size:      size,
		Path:      path,
		RoomName:  roomName,
		Receivers: receivers,
		spool:     spool,
		accepted:  make(map[string]struct{}),
		denied:    make(map[string]struct{}),
	}, nil
}

// Append writes one uploaded chunk to the temp object. When the accumulated
// bytes reach the declared size the upload is complete: the spool is closed,
// the file enters the pending set, and complete=true is returned.
func (c *FileCoordinator) Append(sf *StoredFile, chunk []byte) (complete bool, err error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.spool == nil {
		return false, fmt.Errorf("upload already finished for %s", sf.ID)
	}
	if _, err := sf.spool.Write(chunk); err != nil {
		return false, err
	}
	sf.bytesUploaded += int64(len(chunk))
	if c.metrics != nil {
		c.metrics.RecordFileBytesUploaded(len(chunk))
	}

	if sf.bytesUploaded < sf.Size {
		return false, nil
	}

	if err := sf.spool.Close(); err != nil {
		return false, err
	}
	sf.spool = nil

	c.mu.Lock()
	c.pending[sf.ID] = sf
	pendingCount := len(c.pending)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordPendingFiles(pendingCount)
	}
	return true, nil
}

// Abort discards an incomplete upload: closes the spool and deletes the temp
// object. Used when the sender disconnects mid-upload or an append fails.
func (c *FileCoordinator) Abort(sf *StoredFile) {
	sf.mu.Lock()
	if sf.spool != nil {
		sf.spool.Close()
		sf.spool = nil
	}
	sf.mu.Unlock()

	os.Remove(sf.Path)

	c.mu.Lock()
	delete(c.pending, sf.ID)
	pendingCount := len(c.pending)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordPendingFiles(pendingCount)
	}
}

// Lookup returns the pending file for fileID if username is one of its
// intended receivers.
func (c *FileCoordinator) Lookup(fileID, username string) (*StoredFile, error) {
	c.mu.Lock()
	sf, ok := c.pending[fileID]
	c.mu.Unlock()

	if !ok || !sf.isReceiver(username) {
		return nil, ErrFileNotFound
	}
	return sf, nil
}

// PendingFor returns every stored file offering to username, used to re-send
// offers when that user authenticates.
func (c *FileCoordinator) PendingFor(username string) []*StoredFile {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*StoredFile
	for _, sf := range c.pending {
		sf.mu.Lock()
		_, accepted := sf.accepted[strings.ToLower(username)]
		_, denied := sf.denied[strings.ToLower(username)]
		sf.mu.Unlock()
		if sf.isReceiver(username) && !accepted && !denied {
			out = append(out, sf)
		}
	}
	return out
}

// StreamTo copies the stored bytes to a receiver as a FILE_BEGIN line,
// FileChunk frames, and a FILE_DONE line.
func (c *FileCoordinator) StreamTo(sf *StoredFile, conn *SafeConn) error {
	if err := conn.SendLine(fmt.Sprintf("FILE_BEGIN|%s|%d", sf.Filename, sf.Size)); err != nil {
		return err
	}

	f, err := os.Open(sf.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, protocol.FileChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := conn.WriteFrame(protocol.ChunkFrame(chunk)); werr != nil {
				return werr
			}
			if c.metrics != nil {
				c.metrics.RecordFileBytesDelivered(n)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	return conn.SendLine("FILE_DONE|" + sf.ID)
}

// MarkAccepted records that username accepted the file. Returns true when
// every receiver has now either accepted or denied and the temp object has
// been cleaned up.
func (c *FileCoordinator) MarkAccepted(sf *StoredFile, username string) bool {
	return c.mark(sf, username, true)
}

// MarkDenied records that username denied the file.
func (c *FileCoordinator) MarkDenied(sf *StoredFile, username string) bool {
	return c.mark(sf, username, false)
}

func (c *FileCoordinator) mark(sf *StoredFile, username string, accepted bool) bool {
	key := strings.ToLower(username)

	sf.mu.Lock()
	if accepted {
		sf.accepted[key] = struct{}{}
	} else {
		sf.denied[key] = struct{}{}
	}
	done := len(sf.accepted)+len(sf.denied) >= len(sf.Receivers)
	sf.mu.Unlock()

	if done {
		os.Remove(sf.Path)

		c.mu.Lock()
		delete(c.pending, sf.ID)
		pendingCount := len(c.pending)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordPendingFiles(pendingCount)
		}
	}
	return done
}
