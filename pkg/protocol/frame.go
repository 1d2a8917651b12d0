package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	// FrameText carries a pipe-delimited UTF-8 command or reply line.
	FrameText = 1
	// FrameFileChunk carries raw file bytes for an active transfer.
	FrameFileChunk = 2
)

const (
	// MaxFrameSize is the maximum allowed payload size for a single frame (1 MB).
	MaxFrameSize = 1024 * 1024

	// MaxFileSize is the hard ceiling on a declared file transfer size (200 MiB).
	MaxFileSize = 200 * 1024 * 1024

	// FileChunkSize is the buffer size used when streaming stored files back out.
	FileChunkSize = 8192
)

var (
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size (1 MB)")
	ErrInvalidFrameLength = errors.New("invalid frame length")
)

// Frame is the atomic wire unit: a 1-byte type tag followed by a 4-byte
// signed big-endian payload length and exactly that many payload bytes.
type Frame struct {
	Type    uint8
	Payload []byte
}

// TextFrame wraps a UTF-8 line as a Text frame.
func TextFrame(line string) *Frame {
	return &Frame{Type: FrameText, Payload: []byte(line)}
}

// ChunkFrame wraps raw file bytes as a FileChunk frame.
func ChunkFrame(data []byte) *Frame {
	return &Frame{Type: FrameFileChunk, Payload: data}
}

// ReadFrame reads one frame from the reader. A clean EOF at the tag boundary
// returns io.EOF; a stream that ends mid-frame returns io.ErrUnexpectedEOF.
// A negative or oversized declared length is a protocol error and the caller
// must treat the connection as dead.
func ReadFrame(r io.Reader) (*Frame, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	length := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if length < 0 {
		return nil, ErrInvalidFrameLength
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return &Frame{Type: tag[0], Payload: payload}, nil
}

// WriteFrame writes a frame to the writer and flushes if the writer supports
// it. Callers that share a connection between goroutines must serialize calls
// (see server.SafeConn) so frame bytes never interleave on the wire.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	// One Write call per frame, so message-oriented transports (websocket)
	// carry exactly one frame per message.
	buf := make([]byte, 5+len(f.Payload))
	buf[0] = f.Type
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[5:], f.Payload)

	if _, err := w.Write(buf); err != nil {
		return err
	}

	type flusher interface {
		Flush() error
	}
	if fl, ok := w.(flusher); ok {
		return fl.Flush()
	}
	return nil
}

// SendText encodes line as a Text frame and writes it.
func SendText(w io.Writer, line string) error {
	return WriteFrame(w, TextFrame(line))
}

// EncodeFrame encodes a frame to a byte slice, used to pre-encode broadcast
// lines once before fanning them out.
func EncodeFrame(f *Frame) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := WriteFrame(buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
