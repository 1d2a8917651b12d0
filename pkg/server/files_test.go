package server

import (
	"bytes"
	"net"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipechat/pipechat/pkg/protocol"
)

func testCoordinator(t *testing.T) *FileCoordinator {
	t.Helper()
	return NewFileCoordinator(t.TempDir(), nil)
}

func TestFileUploadLifecycle(t *testing.T) {
	c := testCoordinator(t)
	payload := bytes.Repeat([]byte("x"), 1024)

	sf, err := c.Begin("alice", "a.txt", 1024, []string{"bob"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, sf.ID)
	assert.FileExists(t, sf.Path)

	complete, err := c.Append(sf, payload[:512])
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, int64(512), sf.BytesUploaded())

	complete, err = c.Append(sf, payload[512:])
	require.NoError(t, err)
	assert.True(t, complete)

	stored, err := os.ReadFile(sf.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	// The completed file is offered to its receiver
	got, err := c.Lookup(sf.ID, "bob")
	require.NoError(t, err)
	assert.Same(t, sf, got)
}

func TestFileBeginRejectsBadSizes(t *testing.T) {
	c := testCoordinator(t)

	_, err := c.Begin("alice", "a.txt", 0, []string{"bob"}, "")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = c.Begin("alice", "a.txt", protocol.MaxFileSize+1, []string{"bob"}, "")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = c.Begin("alice", "a.txt", protocol.MaxFileSize, []string{"bob"}, "")
	assert.NoError(t, err)
}

func TestFileAbortRemovesTempData(t *testing.T) {
	c := testCoordinator(t)

	sf, err := c.Begin("alice", "a.txt", 1024, []string{"bob"}, "")
	require.NoError(t, err)
	_, err = c.Append(sf, []byte("partial"))
	require.NoError(t, err)

	c.Abort(sf)
	assert.NoFileExists(t, sf.Path)
}

func TestFileLookupRequiresReceiver(t *testing.T) {
	c := testCoordinator(t)
	sf := storedFile(t, c, "alice", []string{"bob"})

	_, err := c.Lookup(sf.ID, "mallory")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = c.Lookup("no-such-id", "bob")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = c.Lookup(sf.ID, "BOB")
	assert.NoError(t, err)
}

func TestFileResolvedAfterAllReceiversRespond(t *testing.T) {
	c := testCoordinator(t)
	sf := storedFile(t, c, "alice", []string{"bob", "carol"})

	done := c.MarkAccepted(sf, "bob")
	assert.False(t, done)
	assert.FileExists(t, sf.Path)

	done = c.MarkDenied(sf, "carol")
	assert.True(t, done)
	assert.NoFileExists(t, sf.Path)

	_, err := c.Lookup(sf.ID, "bob")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestPendingForSkipsResolvedReceivers(t *testing.T) {
	c := testCoordinator(t)
	sf := storedFile(t, c, "alice", []string{"bob", "carol"})

	assert.Len(t, c.PendingFor("bob"), 1)
	assert.Len(t, c.PendingFor("carol"), 1)
	assert.Empty(t, c.PendingFor("alice"))

	c.MarkAccepted(sf, "bob")
	assert.Empty(t, c.PendingFor("bob"))
	assert.Len(t, c.PendingFor("carol"), 1)
}

func TestStreamTo(t *testing.T) {
	c := testCoordinator(t)
	payload := bytes.Repeat([]byte("y"), protocol.FileChunkSize+100)
	sf, err := c.Begin("alice", "big.bin", int64(len(payload)), []string{"bob"}, "")
	require.NoError(t, err)
	complete, err := c.Append(sf, payload)
	require.NoError(t, err)
	require.True(t, complete)

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	errCh := make(chan error, 1)
	go func() {
		defer serverSide.Close()
		errCh <- c.StreamTo(sf, NewSafeConn(serverSide))
	}()

	begin, err := protocol.ReadFrame(clientSide)
	require.NoError(t, err)
	assert.Equal(t, "FILE_BEGIN|big.bin|"+strconv.Itoa(len(payload)), string(begin.Payload))

	var received []byte
	for {
		frame, err := protocol.ReadFrame(clientSide)
		require.NoError(t, err)
		if frame.Type == protocol.FrameText {
			assert.Equal(t, "FILE_DONE|"+sf.ID, string(frame.Payload))
			break
		}
		received = append(received, frame.Payload...)
	}
	assert.Equal(t, payload, received)
	require.NoError(t, <-errCh)
}

func storedFile(t *testing.T, c *FileCoordinator, sender string, receivers []string) *StoredFile {
	t.Helper()
	sf, err := c.Begin(sender, "f.txt", 4, receivers, "")
	require.NoError(t, err)
	complete, err := c.Append(sf, []byte("data"))
	require.NoError(t, err)
	require.True(t, complete)
	return sf
}
