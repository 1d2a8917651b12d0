package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterUser(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.RegisterUser("alice", "secret1A"))

	err := db.RegisterUser("alice", "other2B")
	assert.ErrorIs(t, err, ErrUserExists)

	// Usernames are case-insensitive
	err = db.RegisterUser("ALICE", "other2B")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestVerifyCredentials(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.RegisterUser("alice", "secret1A"))

	ok, err := db.VerifyCredentials("alice", "secret1A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.VerifyCredentials("alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.VerifyCredentials("nobody", "secret1A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserExists(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.RegisterUser("alice", "secret1A"))

	exists, err := db.UserExists("Alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.UserExists("bob")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSaveMessageAssignsIncreasingIDs(t *testing.T) {
	db := testDB(t)

	var prev int64
	for i := 0; i < 5; i++ {
		id, _, err := db.SaveMessage("alice", "all", "hello")
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestHistoryScopes(t *testing.T) {
	db := testDB(t)

	mustSave := func(sender, receiver, text string) int64 {
		id, _, err := db.SaveMessage(sender, receiver, text)
		require.NoError(t, err)
		return id
	}

	mustSave("alice", "all", "public one")
	mustSave("bob", "all", "public two")
	mustSave("alice", "bob", "dm to bob")
	mustSave("bob", "alice", "dm to alice")
	mustSave("carol", "dave", "unrelated dm")
	mustSave("alice", "general", "room message")

	public, err := db.PublicHistory()
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, "public one", public[0].Text)
	assert.Equal(t, "public two", public[1].Text)

	pm, err := db.PrivateHistory("alice", "BOB")
	require.NoError(t, err)
	require.Len(t, pm, 2)
	assert.Equal(t, "dm to bob", pm[0].Text)
	assert.Equal(t, "dm to alice", pm[1].Text)

	room, err := db.RoomHistory("general")
	require.NoError(t, err)
	require.Len(t, room, 1)
	assert.Equal(t, "room message", room[0].Text)
}

func TestEditMessage(t *testing.T) {
	db := testDB(t)
	id, _, err := db.SaveMessage("alice", "all", "original")
	require.NoError(t, err)

	// Only the sender may edit
	err = db.EditMessage(id, "bob", "hijacked")
	assert.ErrorIs(t, err, ErrMessageNotOwned)

	public, err := db.PublicHistory()
	require.NoError(t, err)
	assert.Equal(t, "original", public[0].Text)
	assert.False(t, public[0].Edited)

	require.NoError(t, db.EditMessage(id, "alice", "updated"))
	public, err = db.PublicHistory()
	require.NoError(t, err)
	assert.Equal(t, "updated", public[0].Text)
	assert.True(t, public[0].Edited)
}

func TestDeleteMessageIsSoft(t *testing.T) {
	db := testDB(t)
	id, _, err := db.SaveMessage("alice", "all", "to be removed")
	require.NoError(t, err)

	err = db.DeleteMessage(id, "bob")
	assert.ErrorIs(t, err, ErrMessageNotOwned)

	require.NoError(t, db.DeleteMessage(id, "alice"))

	public, err := db.PublicHistory()
	require.NoError(t, err)
	assert.Empty(t, public)

	// Deleted messages stay deleted for their owner too
	err = db.DeleteMessage(id, "alice")
	assert.ErrorIs(t, err, ErrMessageNotOwned)
}

func TestCreateRoom(t *testing.T) {
	db := testDB(t)

	roomID, err := db.CreateRoom("general", "alice")
	require.NoError(t, err)

	// The owner membership lands in the same transaction as the room.
	members, err := db.ListMembers(roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	_, err = db.CreateRoom("General", "bob")
	assert.ErrorIs(t, err, ErrRoomExists)

	// The failed create leaves no partial rows: one room, one membership.
	memberships, err := db.AllMemberships()
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, []string{"alice"}, memberships["general"])

	room, err := db.GetRoomByName("GENERAL")
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)
	assert.Equal(t, "alice", room.Owner)

	_, err = db.GetRoomByName("missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomMembership(t *testing.T) {
	db := testDB(t)
	roomID, err := db.CreateRoom("general", "alice")
	require.NoError(t, err)

	require.NoError(t, db.AddMember(roomID, "alice"))
	require.NoError(t, db.AddMember(roomID, "bob"))
	// Adding twice is a no-op
	require.NoError(t, db.AddMember(roomID, "bob"))

	members, err := db.ListMembers(roomID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	isMember, err := db.IsMember(roomID, "BOB")
	require.NoError(t, err)
	assert.True(t, isMember)

	require.NoError(t, db.RemoveMember(roomID, "bob"))
	isMember, err = db.IsMember(roomID, "bob")
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestDeleteRoomRemovesMemberships(t *testing.T) {
	db := testDB(t)
	roomID, err := db.CreateRoom("general", "alice")
	require.NoError(t, err)
	require.NoError(t, db.AddMember(roomID, "alice"))

	require.NoError(t, db.DeleteRoom(roomID))

	_, err = db.GetRoomByName("general")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	memberships, err := db.AllMemberships()
	require.NoError(t, err)
	assert.Empty(t, memberships)
}

func TestRenameRoomRewritesHistory(t *testing.T) {
	db := testDB(t)
	_, err := db.CreateRoom("old", "alice")
	require.NoError(t, err)
	_, _, err = db.SaveMessage("alice", "old", "room chatter")
	require.NoError(t, err)

	require.NoError(t, db.RenameRoom("old", "new"))
	require.NoError(t, db.UpdateRoomMessages("old", "new"))

	_, err = db.GetRoomByName("old")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	history, err := db.RoomHistory("new")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "room chatter", history[0].Text)

	err = db.RenameRoom("missing", "whatever")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRenameRoomNameTaken(t *testing.T) {
	db := testDB(t)
	_, err := db.CreateRoom("one", "alice")
	require.NoError(t, err)
	_, err = db.CreateRoom("two", "bob")
	require.NoError(t, err)

	err = db.RenameRoom("one", "TWO")
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestAllMemberships(t *testing.T) {
	db := testDB(t)

	generalID, err := db.CreateRoom("general", "alice")
	require.NoError(t, err)
	require.NoError(t, db.AddMember(generalID, "bob"))

	// A room everyone has left still shows up, with no members.
	emptyID, err := db.CreateRoom("empty", "carol")
	require.NoError(t, err)
	require.NoError(t, db.RemoveMember(emptyID, "carol"))

	memberships, err := db.AllMemberships()
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, memberships["general"])
	assert.Empty(t, memberships["empty"])
}

func TestListRooms(t *testing.T) {
	db := testDB(t)

	rooms, err := db.ListRooms()
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = db.CreateRoom("beta", "bob")
	require.NoError(t, err)
	_, err = db.CreateRoom("alpha", "alice")
	require.NoError(t, err)

	rooms, err = db.ListRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 2)
}
