package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipechat/pipechat/pkg/database"
)

func testRegistry(t *testing.T) *RoomRegistry {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := NewRoomRegistry(db)
	require.NoError(t, r.Rebuild())
	return r
}

func TestRoomCreateAndDuplicate(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Create("general", "alice"))
	assert.True(t, r.IsMember("general", "alice"))

	err := r.Create("General", "bob")
	assert.ErrorIs(t, err, database.ErrRoomExists)
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Create("general", "alice"))

	require.NoError(t, r.Join("general", "bob"))
	err := r.Join("general", "bob")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	members, ok := r.Members("general")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, members)
}

func TestRoomLeave(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Create("general", "alice"))
	require.NoError(t, r.Join("general", "bob"))

	require.NoError(t, r.Leave("general", "bob"))
	assert.False(t, r.IsMember("general", "bob"))

	err := r.Leave("general", "bob")
	assert.ErrorIs(t, err, ErrNotMember)

	err = r.Leave("missing", "bob")
	assert.ErrorIs(t, err, database.ErrRoomNotFound)
}

func TestRoomKickRules(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Create("general", "alice"))
	require.NoError(t, r.Join("general", "bob"))
	require.NoError(t, r.Join("general", "carol"))

	err := r.Kick("general", "bob", "carol")
	assert.ErrorIs(t, err, ErrNotOwner)

	err = r.Kick("general", "alice", "alice")
	assert.ErrorIs(t, err, ErrOwnerKick)

	err = r.Kick("general", "alice", "dave")
	assert.ErrorIs(t, err, ErrNotMember)

	require.NoError(t, r.Kick("general", "alice", "bob"))
	assert.False(t, r.IsMember("general", "bob"))
	assert.True(t, r.IsMember("general", "carol"))
}

func TestRoomDelete(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Create("general", "alice"))

	err := r.Delete("general", "bob")
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, r.Delete("general", "alice"))
	_, ok := r.Members("general")
	assert.False(t, ok)

	err = r.Delete("general", "alice")
	assert.ErrorIs(t, err, database.ErrRoomNotFound)
}

func TestRoomRename(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Create("old", "alice"))
	require.NoError(t, r.Join("old", "bob"))
	require.NoError(t, r.Create("taken", "carol"))

	err := r.Rename("old", "anything", "bob")
	assert.ErrorIs(t, err, ErrNotOwner)

	err = r.Rename("old", "Taken", "alice")
	assert.ErrorIs(t, err, database.ErrRoomExists)

	require.NoError(t, r.Rename("old", "new", "alice"))
	_, ok := r.Members("old")
	assert.False(t, ok)
	members, ok := r.Members("new")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, members)
	assert.True(t, r.IsMember("NEW", "BOB"))
}

func TestRoomRegistryRebuild(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	first := NewRoomRegistry(db)
	require.NoError(t, first.Rebuild())
	require.NoError(t, first.Create("general", "alice"))
	require.NoError(t, first.Join("general", "bob"))

	// A fresh registry over the same storage sees the same membership.
	second := NewRoomRegistry(db)
	require.NoError(t, second.Rebuild())
	members, ok := second.Members("general")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, members)
}
