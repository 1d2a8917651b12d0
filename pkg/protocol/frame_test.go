package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "text frame - empty payload",
			frame: Frame{Type: FrameText, Payload: []byte{}},
		},
		{
			name:  "text frame - command line",
			frame: Frame{Type: FrameText, Payload: []byte("AUTH|LOGIN|alice|secret1A")},
		},
		{
			name:  "text frame - payload containing pipes and UTF-8",
			frame: Frame{Type: FrameText, Payload: []byte("MSG|all|héllo|wörld")},
		},
		{
			name:  "file chunk frame",
			frame: Frame{Type: FrameFileChunk, Payload: bytes.Repeat([]byte{0xAB}, FileChunkSize)},
		},
		{
			name:  "max payload size",
			frame: Frame{Type: FrameText, Payload: make([]byte, MaxFrameSize)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, WriteFrame(buf, &tt.frame))

			decoded, err := ReadFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.frame.Type, decoded.Type)
			assert.Equal(t, tt.frame.Payload, decoded.Payload)
		})
	}
}

func TestWriteFrameOversized(t *testing.T) {
	frame := &Frame{Type: FrameText, Payload: make([]byte, MaxFrameSize+1)}
	err := WriteFrame(new(bytes.Buffer), frame)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameNegativeLength(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteByte(FrameText)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], 0xFFFFFFFF) // -1 as signed int32
	buf.Write(length[:])

	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrInvalidFrameLength)
}

func TestReadFrameDeclaredLengthTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteByte(FrameText)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(MaxFrameSize+1))
	buf.Write(length[:])

	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameCleanEOF(t *testing.T) {
	// A stream ending exactly at a frame boundary is a clean disconnect.
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "truncated header",
			data: []byte{FrameText, 0x00, 0x00},
		},
		{
			name: "truncated payload",
			data: func() []byte {
				buf := new(bytes.Buffer)
				require.NoError(t, WriteFrame(buf, TextFrame("MSG|all|hello")))
				return buf.Bytes()[:buf.Len()-3]
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestSendText(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, SendText(buf, "PING"))

	frame, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(FrameText), frame.Type)
	assert.Equal(t, "PING", string(frame.Payload))
}

func TestEncodeFrameMatchesWriteFrame(t *testing.T) {
	frame := TextFrame("USERS|alice,bob")

	encoded, err := EncodeFrame(frame)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, WriteFrame(buf, frame))
	assert.Equal(t, buf.Bytes(), encoded)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteFrame(buf, TextFrame("first")))
	require.NoError(t, WriteFrame(buf, ChunkFrame([]byte{1, 2, 3})))
	require.NoError(t, WriteFrame(buf, TextFrame("last")))

	f1, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(f1.Payload))

	f2, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(FrameFileChunk), f2.Type)
	assert.Equal(t, []byte{1, 2, 3}, f2.Payload)

	f3, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, "last", string(f3.Payload))

	_, err = ReadFrame(buf)
	assert.Equal(t, io.EOF, err)
}
