package server

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/pipechat/pipechat/pkg/database"
)

var (
	// ErrNotOwner is returned for owner-only room operations by non-owners.
	ErrNotOwner = errors.New("not the room owner")
	// ErrOwnerKick is returned when a kick targets the room owner.
	ErrOwnerKick = errors.New("owner cannot be kicked")
	// ErrAlreadyMember is returned for a join by an existing member.
	ErrAlreadyMember = errors.New("already a member")
	// ErrNotMember is returned when an operation requires room membership.
	ErrNotMember = errors.New("not a member")
)

// RoomRegistry is the in-memory mirror of persisted room membership, used for
// fast broadcast-target resolution. Every mutating operation updates storage
// and the mirror under one mutex so the two never diverge outside an in-flight
// mutation. Room names are case-insensitive.
type RoomRegistry struct {
	mu      sync.Mutex
	db      *database.DB
	members map[string]map[string]string   // lower(room) -> lower(member) -> display name
	display map[string]string              // lower(room) -> display name
}

// NewRoomRegistry creates a registry backed by db. Call Rebuild before use.
func NewRoomRegistry(db *database.DB) *RoomRegistry {
	return &RoomRegistry{
		db:      db,
		members: make(map[string]map[string]string),
		display: make(map[string]string),
	}
}

// Rebuild loads the full membership mirror from storage.
func (r *RoomRegistry) Rebuild() error {
	memberships, err := r.db.AllMemberships()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[string]map[string]string, len(memberships))
	r.display = make(map[string]string, len(memberships))
	for room, users := range memberships {
		key := strings.ToLower(room)
		set := make(map[string]string, len(users))
		for _, u := range users {
			set[strings.ToLower(u)] = u
		}
		r.members[key] = set
		r.display[key] = room
	}
	return nil
}

// Create persists a room owned by owner. Storage writes the room and the
// owner membership atomically, so the mirror and storage stay in step even
// when the create fails.
func (r *RoomRegistry) Create(name, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.CreateRoom(name, owner); err != nil {
		return err
	}

	key := strings.ToLower(name)
	r.members[key] = map[string]string{strings.ToLower(owner): owner}
	r.display[key] = name
	return nil
}

// Delete removes a room and its memberships. Owner-only.
func (r *RoomRegistry) Delete(name, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.db.GetRoomByName(name)
	if err != nil {
		return err
	}
	if !strings.EqualFold(room.Owner, caller) {
		return ErrNotOwner
	}
	if err := r.db.DeleteRoom(room.ID); err != nil {
		return err
	}

	key := strings.ToLower(name)
	delete(r.members, key)
	delete(r.display, key)
	return nil
}

// Join adds user to a room. Idempotence is checked against current membership
// before mutating, so a duplicate join never double-applies.
func (r *RoomRegistry) Join(name, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.db.GetRoomByName(name)
	if err != nil {
		return err
	}
	already, err := r.db.IsMember(room.ID, user)
	if err != nil {
		return err
	}
	if already {
		return ErrAlreadyMember
	}
	if err := r.db.AddMember(room.ID, user); err != nil {
		return err
	}

	key := strings.ToLower(name)
	if r.members[key] == nil {
		r.members[key] = make(map[string]string)
		r.display[key] = room.Name
	}
	r.members[key][strings.ToLower(user)] = user
	return nil
}

// Leave removes user from a room they belong to.
func (r *RoomRegistry) Leave(name, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.db.GetRoomByName(name)
	if err != nil {
		return err
	}
	member, err := r.db.IsMember(room.ID, user)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	if err := r.db.RemoveMember(room.ID, user); err != nil {
		return err
	}

	if set := r.members[strings.ToLower(name)]; set != nil {
		delete(set, strings.ToLower(user))
	}
	return nil
}

// Kick removes target from a room. Owner-only; the owner cannot be kicked.
func (r *RoomRegistry) Kick(name, caller, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.db.GetRoomByName(name)
	if err != nil {
		return err
	}
	if !strings.EqualFold(room.Owner, caller) {
		return ErrNotOwner
	}
	if strings.EqualFold(room.Owner, target) {
		return ErrOwnerKick
	}
	member, err := r.db.IsMember(room.ID, target)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	if err := r.db.RemoveMember(room.ID, target); err != nil {
		return err
	}

	if set := r.members[strings.ToLower(name)]; set != nil {
		delete(set, strings.ToLower(target))
	}
	return nil
}

// Rename changes a room's name. Owner-only; the new name must be free. Stored
// room messages are rewritten so history follows the new name.
func (r *RoomRegistry) Rename(oldName, newName, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.db.GetRoomByName(oldName)
	if err != nil {
		return err
	}
	if !strings.EqualFold(room.Owner, caller) {
		return ErrNotOwner
	}
	taken, err := r.db.RoomExists(newName)
	if err != nil {
		return err
	}
	if taken {
		return database.ErrRoomExists
	}
	if err := r.db.RenameRoom(oldName, newName); err != nil {
		return err
	}
	if err := r.db.UpdateRoomMessages(oldName, newName); err != nil {
		return err
	}

	oldKey := strings.ToLower(oldName)
	newKey := strings.ToLower(newName)
	r.members[newKey] = r.members[oldKey]
	r.display[newKey] = newName
	if newKey != oldKey {
		delete(r.members, oldKey)
		delete(r.display, oldKey)
	}
	return nil
}

// Members returns a room's member usernames from the mirror, sorted.
// The second return is false if the room does not exist.
func (r *RoomRegistry) Members(name string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for _, u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, true
}

// IsMember reports membership against the mirror.
func (r *RoomRegistry) IsMember(name, user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[strings.ToLower(name)]
	if !ok {
		return false
	}
	_, member := set[strings.ToLower(user)]
	return member
}

// Room returns the persisted room record for info queries.
func (r *RoomRegistry) Room(name string) (*database.Room, error) {
	return r.db.GetRoomByName(name)
}

// List returns all persisted rooms.
func (r *RoomRegistry) List() ([]*database.Room, error) {
	return r.db.ListRooms()
}
