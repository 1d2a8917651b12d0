package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	// ErrUserExists indicates the username is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound indicates no such user is registered.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoomExists indicates the room name is already taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound indicates the room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrMessageNotOwned indicates the message does not exist, is deleted, or
	// is not authored by the caller.
	ErrMessageNotOwned = errors.New("message not owned by caller")
)

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows multiple readers and one writer at the same time
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Dedicated write connection: exactly 1 connection, no pooling
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{conn: conn, writeConn: writeConn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Close closes both database connections
func (db *DB) Close() error {
	werr := db.writeConn.Close()
	rerr := db.conn.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,  -- 'all', a username, or a room name
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		edited INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver, deleted);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, deleted);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		owner TEXT NOT NULL COLLATE NOCASE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id INTEGER NOT NULL,
		username TEXT NOT NULL COLLATE NOCASE,
		PRIMARY KEY (room_id, username),
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);
	`
	_, err := db.writeConn.Exec(schema)
	return err
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// RegisterUser creates a user with a bcrypt-hashed password.
// Returns ErrUserExists if the username is taken (case-insensitive).
func (db *DB) RegisterUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = db.writeConn.Exec(
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, string(hash), nowMillis(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// VerifyCredentials checks a username/password pair. A missing user and a
// wrong password both report false, nil so callers cannot distinguish them.
func (db *DB) VerifyCredentials(username, password string) (bool, error) {
	var hash string
	err := db.conn.QueryRow(
		`SELECT password_hash FROM users WHERE username = ?`, username,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return false, nil
	}
	return true, nil
}

// UserExists reports whether the username is registered.
func (db *DB) UserExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM users WHERE username = ?`, username,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Message is a persisted chat message. Receiver is 'all' for broadcasts, a
// username for direct messages, or a room name for room messages.
type Message struct {
	ID       int64
	Sender   string
	Receiver string
	Text     string
	Time     time.Time
	Edited   bool
}

// SaveMessage persists a message and returns its id and timestamp. The id is
// assigned here and used verbatim in the broadcast payload so sender and
// receivers observe the same id.
func (db *DB) SaveMessage(sender, receiver, text string) (int64, time.Time, error) {
	now := time.Now()
	res, err := db.writeConn.Exec(
		`INSERT INTO messages (sender, receiver, text, created_at) VALUES (?, ?, ?, ?)`,
		sender, receiver, text, now.UnixMilli(),
	)
	if err != nil {
		return 0, time.Time{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, err
	}
	return id, now, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var createdAt int64
		var edited int
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Text, &createdAt, &edited); err != nil {
			return nil, err
		}
		m.Time = time.UnixMilli(createdAt)
		m.Edited = edited != 0
		out = append(out, &m)
	}
	return out, rows.Err()
}

const messageColumns = `id, sender, receiver, text, created_at, edited`

// PublicHistory returns all non-deleted broadcast messages in id order.
func (db *DB) PublicHistory() ([]*Message, error) {
	rows, err := db.conn.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE receiver = 'all' COLLATE NOCASE AND deleted = 0
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// PersonalHistory returns broadcasts plus messages sent or received by the
// given user, in id order.
func (db *DB) PersonalHistory(username string) ([]*Message, error) {
	rows, err := db.conn.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE deleted = 0
		   AND (receiver = 'all' COLLATE NOCASE
		        OR sender = ? COLLATE NOCASE
		        OR receiver = ? COLLATE NOCASE)
		 ORDER BY id`, username, username)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// PrivateHistory returns the direct-message conversation between two users.
func (db *DB) PrivateHistory(user1, user2 string) ([]*Message, error) {
	rows, err := db.conn.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE deleted = 0
		   AND ((sender = ?1 COLLATE NOCASE AND receiver = ?2 COLLATE NOCASE)
		     OR (sender = ?2 COLLATE NOCASE AND receiver = ?1 COLLATE NOCASE))
		 ORDER BY id`, user1, user2)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// RoomHistory returns all non-deleted messages addressed to a room.
func (db *DB) RoomHistory(roomName string) ([]*Message, error) {
	rows, err := db.conn.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE receiver = ? COLLATE NOCASE AND deleted = 0
		 ORDER BY id`, roomName)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// EditMessage replaces the text of a message owned by sender and marks it
// edited. Returns ErrMessageNotOwned if the message does not exist, is
// deleted, or belongs to someone else.
func (db *DB) EditMessage(id int64, sender, newText string) error {
	res, err := db.writeConn.Exec(
		`UPDATE messages SET text = ?, edited = 1
		 WHERE id = ? AND sender = ? COLLATE NOCASE AND deleted = 0`,
		newText, id, sender)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMessageNotOwned
	}
	return nil
}

// DeleteMessage soft-deletes a message owned by sender.
func (db *DB) DeleteMessage(id int64, sender string) error {
	res, err := db.writeConn.Exec(
		`UPDATE messages SET deleted = 1
		 WHERE id = ? AND sender = ? COLLATE NOCASE AND deleted = 0`,
		id, sender)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMessageNotOwned
	}
	return nil
}

// UpdateRoomMessages rewrites the receiver of all messages addressed to a
// renamed room so room history follows the new name.
func (db *DB) UpdateRoomMessages(oldName, newName string) error {
	_, err := db.writeConn.Exec(
		`UPDATE messages SET receiver = ? WHERE receiver = ? COLLATE NOCASE`,
		newName, oldName)
	return err
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// Room is a persisted room record. Member usernames live in room_members.
type Room struct {
	ID        int64
	Name      string
	Owner     string
	CreatedAt time.Time
}

// CreateRoom persists a room with its owner as the first member, in one
// transaction, and returns the room id. Returns ErrRoomExists if the name is
// taken (case-insensitive). A failed create leaves no partial rows behind.
func (db *DB) CreateRoom(name, owner string) (int64, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO rooms (name, owner, created_at) VALUES (?, ?, ?)`,
		name, owner, nowMillis())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrRoomExists
		}
		return 0, err
	}
	roomID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(
		`INSERT INTO room_members (room_id, username) VALUES (?, ?)`,
		roomID, owner); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return roomID, nil
}

// GetRoomByName returns a room record, or ErrRoomNotFound.
func (db *DB) GetRoomByName(name string) (*Room, error) {
	var r Room
	var createdAt int64
	err := db.conn.QueryRow(
		`SELECT id, name, owner, created_at FROM rooms WHERE name = ?`, name,
	).Scan(&r.ID, &r.Name, &r.Owner, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	return &r, nil
}

// RoomExists reports whether a room name is taken.
func (db *DB) RoomExists(name string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM rooms WHERE name = ?`, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteRoom removes a room and its memberships in one transaction.
func (db *DB) DeleteRoom(roomID int64) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM room_members WHERE room_id = ?`, roomID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return err
	}
	return tx.Commit()
}

// RenameRoom changes a room's name. Returns ErrRoomExists if the new name is
// taken, ErrRoomNotFound if the old name does not exist.
func (db *DB) RenameRoom(oldName, newName string) error {
	res, err := db.writeConn.Exec(
		`UPDATE rooms SET name = ? WHERE name = ? COLLATE NOCASE`, newName, oldName)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRoomExists
		}
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// ListRooms returns all rooms in creation order.
func (db *DB) ListRooms() ([]*Room, error) {
	rows, err := db.conn.Query(`SELECT id, name, owner, created_at FROM rooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Room
	for rows.Next() {
		var r Room
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Owner, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AddMember adds a user to a room; adding an existing member is a no-op.
func (db *DB) AddMember(roomID int64, username string) error {
	_, err := db.writeConn.Exec(
		`INSERT OR IGNORE INTO room_members (room_id, username) VALUES (?, ?)`,
		roomID, username)
	return err
}

// RemoveMember removes a user from a room.
func (db *DB) RemoveMember(roomID int64, username string) error {
	_, err := db.writeConn.Exec(
		`DELETE FROM room_members WHERE room_id = ? AND username = ?`,
		roomID, username)
	return err
}

// IsMember reports whether a user belongs to a room.
func (db *DB) IsMember(roomID int64, username string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND username = ?`,
		roomID, username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListMembers returns a room's member usernames in join order.
func (db *DB) ListMembers(roomID int64) ([]string, error) {
	rows, err := db.conn.Query(
		`SELECT username FROM room_members WHERE room_id = ? ORDER BY rowid`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AllMemberships returns room name -> member usernames for every room, used
// to rebuild the in-memory room registry at process start.
func (db *DB) AllMemberships() (map[string][]string, error) {
	rows, err := db.conn.Query(
		`SELECT r.name, m.username
		 FROM rooms r LEFT JOIN room_members m ON m.room_id = r.id
		 ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var room string
		var member sql.NullString
		if err := rows.Scan(&room, &member); err != nil {
			return nil, err
		}
		if _, ok := out[room]; !ok {
			out[room] = nil
		}
		if member.Valid {
			out[room] = append(out[room], member.String)
		}
	}
	return out, rows.Err()
}
