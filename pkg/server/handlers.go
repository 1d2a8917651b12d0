package server

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/pipechat/pipechat/pkg/database"
	"github.com/pipechat/pipechat/pkg/protocol"
)

// dispatch routes one decoded command line. The first pipe-delimited token
// selects the verb; everything except AUTH and PING requires an
// authenticated session.
func (s *Server) dispatch(sess *Session, line string) {
	verb := line
	if i := strings.IndexByte(line, '|'); i >= 0 {
		verb = line[:i]
	}
	if s.metrics != nil {
		s.metrics.RecordCommand(verb)
	}

	switch verb {
	case "PING":
		s.sendLine(sess, "PONG")
		return
	case "AUTH":
		s.handleAuth(sess, line)
		return
	}

	if !sess.IsAuthenticated() {
		s.sendLine(sess, "ERROR|Not authorized")
		return
	}

	switch verb {
	case "MSG":
		s.handleMsg(sess, line)
	case "HISTORY":
		s.handleHistory(sess, line)
	case "EDIT":
		s.handleEdit(sess, line)
	case "DEL":
		s.handleDel(sess, line)
	case "GET_USERS":
		s.sendLine(sess, "USERS|"+strings.Join(s.presence.OnlineUsers(), ","))
	case "ROOM_CREATE":
		s.handleRoomCreate(sess, line)
	case "ROOM_DELETE":
		s.handleRoomDelete(sess, line)
	case "ROOM_JOIN":
		s.handleRoomJoin(sess, line)
	case "ROOM_LEAVE":
		s.handleRoomLeave(sess, line)
	case "ROOM_MSG":
		s.handleRoomMsg(sess, line)
	case "ROOM_LIST":
		s.handleRoomList(sess)
	case "ROOM_USERS":
		s.handleRoomUsers(sess, line)
	case "ROOM_INFO":
		s.handleRoomInfo(sess, line)
	case "ROOM_KICK":
		s.handleRoomKick(sess, line)
	case "ROOM_RENAME":
		s.handleRoomRename(sess, line)
	case "ROOM_HISTORY":
		s.handleRoomHistory(sess, line)
	case "FILE":
		s.handleFile(sess, line)
	case "FILE_ACCEPT":
		s.handleFileAccept(sess, line)
	case "FILE_DENY":
		s.handleFileDeny(sess, line)
	default:
		s.sendLine(sess, "ERROR|Unknown command")
	}
}

// handleAuth processes AUTH|REGISTER|user|pass and AUTH|LOGIN|user|pass.
// On success the session is bound to the username, presence is broadcast,
// and any file offers pending for that username are delivered.
func (s *Server) handleAuth(sess *Session, line string) {
	if sess.IsAuthenticated() {
		s.sendLine(sess, "AUTH|FAIL|Already logged in")
		return
	}

	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
		s.sendLine(sess, "AUTH|FAIL|Invalid command format")
		return
	}
	mode, username, password := parts[1], parts[2], parts[3]

	switch mode {
	case "REGISTER":
		if reason := validatePassword(password); reason != "" {
			s.sendLine(sess, "AUTH|FAIL|"+reason)
			return
		}
		if err := s.db.RegisterUser(username, password); err != nil {
			if errors.Is(err, database.ErrUserExists) {
				s.sendLine(sess, "AUTH|FAIL|User exists")
			} else {
				errorLog.Printf("Session %d: register failed: %v", sess.ID, err)
				s.sendLine(sess, fmt.Sprintf("AUTH|FAIL|Database error: %v", err))
			}
			return
		}
	case "LOGIN":
		ok, err := s.db.VerifyCredentials(username, password)
		if err != nil {
			errorLog.Printf("Session %d: login failed: %v", sess.ID, err)
			s.sendLine(sess, fmt.Sprintf("AUTH|FAIL|Database error: %v", err))
			return
		}
		if !ok {
			s.sendLine(sess, "AUTH|FAIL|Invalid credentials")
			return
		}
	default:
		s.sendLine(sess, "AUTH|FAIL|Unknown mode")
		return
	}

	if err := s.presence.Bind(sess, username); err != nil {
		s.sendLine(sess, "AUTH|FAIL|Already logged in")
		return
	}

	log.Printf("[AUTH] %s authenticated (session %d)", username, sess.ID)
	s.sendLine(sess, "AUTH|OK")
	s.broadcastUsers()

	for _, sf := range s.files.PendingFor(username) {
		s.sendLine(sess, fmt.Sprintf("FILE_OFFER|%s|%s|%s|%d", sf.ID, sf.Sender, sf.Filename, sf.Size))
	}
}

// formatMessage renders a stored message the way live messages are sent, so
// history replay and real-time delivery look identical to clients.
func formatMessage(m *database.Message) string {
	text := m.Text
	if m.Edited {
		text += " (edited)"
	}
	return fmt.Sprintf("MSG|%d|%s|%s|%s|%s", m.ID, m.Time.Format("15:04:05"), m.Sender, m.Receiver, text)
}

// handleMsg processes MSG|all|text and MSG|username|text. The message id is
// assigned at persist time and used verbatim in every delivered copy.
func (s *Server) handleMsg(sess *Session, line string) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Invalid receiver")
		return
	}
	target, text := parts[1], parts[2]
	sender := sess.Username()

	if s.tooLong(sess, text) {
		return
	}

	if strings.EqualFold(target, "all") {
		id, ts, err := s.db.SaveMessage(sender, "all", text)
		if err != nil {
			s.dbError(sess, "save message", err)
			return
		}
		s.broadcastLine(fmt.Sprintf("MSG|%d|%s|%s|all|%s", id, ts.Format("15:04:05"), sender, text))
		return
	}

	if strings.EqualFold(target, sender) {
		s.sendLine(sess, "ERROR|Invalid receiver")
		return
	}

	id, ts, err := s.db.SaveMessage(sender, target, text)
	if err != nil {
		s.dbError(sess, "save message", err)
		return
	}

	msg := fmt.Sprintf("MSG|%d|%s|%s|%s|%s", id, ts.Format("15:04:05"), sender, target, text)
	recipient, online := s.presence.Get(target)
	if !online {
		s.sendLine(sess, "ERROR|User not online")
		return
	}
	s.sendLine(recipient, msg)
	s.sendLine(sess, msg)
}

// handleHistory replays persisted, non-deleted messages as MSG lines
// terminated by --END--. Scopes: bare HISTORY covers everything the caller
// can see, PUBLIC the broadcast channel, PM|user one conversation,
// ROOM|name one room.
func (s *Server) handleHistory(sess *Session, line string) {
	parts := strings.Split(line, "|")
	username := sess.Username()

	var (
		messages []*database.Message
		err      error
	)
	switch {
	case len(parts) == 1:
		messages, err = s.db.PersonalHistory(username)
	case parts[1] == "PUBLIC":
		messages, err = s.db.PublicHistory()
	case parts[1] == "PM" && len(parts) >= 3 && parts[2] != "":
		messages, err = s.db.PrivateHistory(username, parts[2])
	case parts[1] == "ROOM" && len(parts) >= 3 && parts[2] != "":
		s.roomHistory(sess, parts[2])
		return
	default:
		s.sendLine(sess, "ERROR|Unknown command")
		return
	}
	if err != nil {
		s.dbError(sess, "load history", err)
		return
	}
	s.streamHistory(sess, messages)
}

// handleRoomHistory processes ROOM_HISTORY|name, the standalone spelling of
// HISTORY|ROOM|name.
func (s *Server) handleRoomHistory(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	s.roomHistory(sess, parts[1])
}

func (s *Server) roomHistory(sess *Session, roomName string) {
	if _, err := s.rooms.Room(roomName); err != nil {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	if !s.rooms.IsMember(roomName, sess.Username()) {
		s.sendLine(sess, "ROOM|NOT_MEMBER|"+roomName)
		return
	}
	messages, err := s.db.RoomHistory(roomName)
	if err != nil {
		s.dbError(sess, "load room history", err)
		return
	}
	s.streamHistory(sess, messages)
}

// streamHistory writes each message line followed by the --END-- sentinel.
// A failed write aborts the replay; the read loop will notice the dead
// connection on its own.
func (s *Server) streamHistory(sess *Session, messages []*database.Message) {
	for _, m := range messages {
		if err := sess.Conn.SendLine(formatMessage(m)); err != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.RecordLineSent()
		}
	}
	s.sendLine(sess, "--END--")
}

// handleEdit processes EDIT|id|text. Only the original sender may edit; a
// successful edit broadcasts a HISTORY_UPDATED reload cue.
func (s *Server) handleEdit(sess *Session, line string) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		s.sendLine(sess, "ERROR|Cannot edit")
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		s.sendLine(sess, "ERROR|Cannot edit")
		return
	}

	if err := s.db.EditMessage(id, sess.Username(), parts[2]); err != nil {
		if errors.Is(err, database.ErrMessageNotOwned) {
			s.sendLine(sess, "ERROR|Cannot edit")
		} else {
			s.dbError(sess, "edit message", err)
		}
		return
	}
	s.broadcastLine("HISTORY_UPDATED")
}

// handleDel processes DEL|id: soft-deletes the caller's own message and
// broadcasts a HISTORY_UPDATED reload cue.
func (s *Server) handleDel(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 {
		s.sendLine(sess, "ERROR|Cannot delete")
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		s.sendLine(sess, "ERROR|Cannot delete")
		return
	}

	if err := s.db.DeleteMessage(id, sess.Username()); err != nil {
		if errors.Is(err, database.ErrMessageNotOwned) {
			s.sendLine(sess, "ERROR|Cannot delete")
		} else {
			s.dbError(sess, "delete message", err)
		}
		return
	}
	s.broadcastLine("HISTORY_UPDATED")
}

func (s *Server) handleRoomCreate(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	name := parts[1]
	owner := sess.Username()

	if err := s.rooms.Create(name, owner); err != nil {
		if errors.Is(err, database.ErrRoomExists) {
			s.sendLine(sess, "ROOM|EXISTS|"+name)
		} else {
			s.dbError(sess, "create room", err)
		}
		return
	}

	log.Printf("[ROOM] %s created by %s", name, owner)
	s.sendLine(sess, "ROOM|CREATED|"+name)
	s.broadcastExcept(sess.ID, fmt.Sprintf("ROOM_UPDATE|CREATED|%s|%s", name, owner))
}

func (s *Server) handleRoomDelete(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	name := parts[1]

	if err := s.rooms.Delete(name, sess.Username()); err != nil {
		switch {
		case errors.Is(err, database.ErrRoomNotFound):
			s.sendLine(sess, "ERROR|Room not found")
		case errors.Is(err, ErrNotOwner):
			s.sendLine(sess, "ERROR|Only owner can delete room")
		default:
			s.dbError(sess, "delete room", err)
		}
		return
	}

	log.Printf("[ROOM] %s deleted by %s", name, sess.Username())
	s.sendLine(sess, "ROOM|DELETED|"+name)
	s.broadcastExcept(sess.ID, "ROOM_UPDATE|DELETED|"+name)
}

func (s *Server) handleRoomJoin(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	name := parts[1]
	user := sess.Username()

	if err := s.rooms.Join(name, user); err != nil {
		switch {
		case errors.Is(err, database.ErrRoomNotFound):
			s.sendLine(sess, "ERROR|Room not found")
		case errors.Is(err, ErrAlreadyMember):
			s.sendLine(sess, "ROOM|ALREADY|"+name)
		default:
			s.dbError(sess, "join room", err)
		}
		return
	}

	s.sendLine(sess, "ROOM|JOINED|"+name)
	s.sendToRoom(name, user, fmt.Sprintf("ROOM|USER_JOINED|%s|%s", name, user))
}

func (s *Server) handleRoomLeave(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	name := parts[1]
	user := sess.Username()

	if err := s.rooms.Leave(name, user); err != nil {
		switch {
		case errors.Is(err, database.ErrRoomNotFound):
			s.sendLine(sess, "ERROR|Room not found")
		case errors.Is(err, ErrNotMember):
			s.sendLine(sess, "ROOM|NOT_MEMBER|"+name)
		default:
			s.dbError(sess, "leave room", err)
		}
		return
	}

	s.sendLine(sess, "ROOM|LEFT|"+name)
	s.sendToRoom(name, user, fmt.Sprintf("ROOM|USER_LEFT|%s|%s", name, user))
}

// handleRoomMsg processes ROOM_MSG|name|text: the sender must be a member;
// the message persists with the room name as receiver and fans out to every
// online member, sender included.
func (s *Server) handleRoomMsg(sess *Session, line string) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	name, text := parts[1], parts[2]
	sender := sess.Username()

	if s.tooLong(sess, text) {
		return
	}
	if _, err := s.rooms.Room(name); err != nil {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	if !s.rooms.IsMember(name, sender) {
		s.sendLine(sess, "ROOM|NOT_MEMBER|"+name)
		return
	}

	id, ts, err := s.db.SaveMessage(sender, name, text)
	if err != nil {
		s.dbError(sess, "save room message", err)
		return
	}

	s.sendToRoom(name, "", fmt.Sprintf("MSG|%d|%s|%s|%s|%s", id, ts.Format("15:04:05"), sender, name, text))
}

func (s *Server) handleRoomList(sess *Session) {
	rooms, err := s.rooms.List()
	if err != nil {
		s.dbError(sess, "list rooms", err)
		return
	}
	if len(rooms) == 0 {
		s.sendLine(sess, "ROOM_LIST|NONE")
		return
	}

	entries := make([]string, 0, len(rooms))
	for _, room := range rooms {
		entries = append(entries, fmt.Sprintf("%s(%s)", room.Name, room.Owner))
	}
	s.sendLine(sess, "ROOM_LIST|"+strings.Join(entries, ","))
}

func (s *Server) handleRoomUsers(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	name := parts[1]

	members, ok := s.rooms.Members(name)
	if !ok {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	if len(members) == 0 {
		s.sendLine(sess, "ROOM_USERS|"+name+"|NONE")
		return
	}
	s.sendLine(sess, "ROOM_USERS|"+name+"|"+strings.Join(members, ","))
}

func (s *Server) handleRoomInfo(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	name := parts[1]

	room, err := s.rooms.Room(name)
	if err != nil {
		s.sendLine(sess, "ERROR|Room not found")
		return
	}
	members, _ := s.rooms.Members(name)
	memberList := "NONE"
	if len(members) > 0 {
		memberList = strings.Join(members, ",")
	}
	s.sendLine(sess, fmt.Sprintf("ROOM_INFO|%s|%s|%s|%d|%s",
		room.Name, room.Owner, room.CreatedAt.Format("2006-01-02 15:04:05"), len(members), memberList))
}

// handleRoomKick processes ROOM_KICK|name|user. Owner-only; the owner cannot
// be kicked; the target must be a member. The kicked user and the remaining
// members are notified separately.
func (s *Server) handleRoomKick(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		s.sendLine(sess, "ERROR|RoomNotFound")
		return
	}
	name, target := parts[1], parts[2]

	if err := s.rooms.Kick(name, sess.Username(), target); err != nil {
		switch {
		case errors.Is(err, database.ErrRoomNotFound):
			s.sendLine(sess, "ERROR|RoomNotFound")
		case errors.Is(err, ErrNotOwner):
			s.sendLine(sess, "ERROR|NotOwner")
		case errors.Is(err, ErrOwnerKick):
			s.sendLine(sess, "ERROR|OwnerCannotBeKicked")
		case errors.Is(err, ErrNotMember):
			s.sendLine(sess, "ERROR|UserNotInRoom")
		default:
			s.dbError(sess, "kick member", err)
		}
		return
	}

	s.sendLine(sess, fmt.Sprintf("ROOM_KICK|OK|%s|%s", name, target))
	if kicked, online := s.presence.Get(target); online {
		s.sendLine(kicked, "ROOM_KICK|KICKED|"+name)
	}
	s.sendToRoom(name, sess.Username(), fmt.Sprintf("ROOM|USER_KICKED|%s|%s", name, target))
}

// handleRoomRename processes ROOM_RENAME|old|new. Owner-only; the new name
// must be free. Stored room messages follow the new name.
func (s *Server) handleRoomRename(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		s.sendLine(sess, "ERROR|RoomNotFound")
		return
	}
	oldName, newName := parts[1], parts[2]

	if err := s.rooms.Rename(oldName, newName, sess.Username()); err != nil {
		switch {
		case errors.Is(err, database.ErrRoomNotFound):
			s.sendLine(sess, "ERROR|RoomNotFound")
		case errors.Is(err, ErrNotOwner):
			s.sendLine(sess, "ERROR|NotOwner")
		case errors.Is(err, database.ErrRoomExists):
			s.sendLine(sess, "ERROR|NameExists")
		default:
			s.dbError(sess, "rename room", err)
		}
		return
	}

	log.Printf("[ROOM] %s renamed to %s by %s", oldName, newName, sess.Username())
	s.sendLine(sess, fmt.Sprintf("ROOM_RENAME|OK|%s|%s", oldName, newName))
	s.sendToRoom(newName, sess.Username(), fmt.Sprintf("ROOM_RENAME|RENAMED|%s|%s", oldName, newName))
}

// handleFile validates FILE|target|filename|size and opens an upload. The
// target is a username or #roomname; a room target resolves to the current
// member list minus the sender, independent of who is online.
func (s *Server) handleFile(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 4 || parts[1] == "" || parts[2] == "" {
		s.sendLine(sess, "ERROR|Bad FILE format")
		return
	}
	target, filename := parts[1], parts[2]
	sender := sess.Username()

	size, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || size <= 0 {
		s.sendLine(sess, "ERROR|Bad file size")
		return
	}
	if size > protocol.MaxFileSize {
		s.sendLine(sess, "ERROR|File too large (limit 200 MB)")
		return
	}
	if sess.ActiveUpload() != nil {
		s.sendLine(sess, "ERROR|Upload already in progress")
		return
	}

	var (
		receivers []string
		roomName  string
	)
	if strings.HasPrefix(target, "#") {
		roomName = strings.TrimPrefix(target, "#")
		members, ok := s.rooms.Members(roomName)
		if !ok {
			s.sendLine(sess, fmt.Sprintf("ERROR|Room '%s' does not exist", roomName))
			return
		}
		if !s.rooms.IsMember(roomName, sender) {
			s.sendLine(sess, fmt.Sprintf("ERROR|You are not a member of room '%s'", roomName))
			return
		}
		for _, m := range members {
			if !strings.EqualFold(m, sender) {
				receivers = append(receivers, m)
			}
		}
		if len(receivers) == 0 {
			s.sendLine(sess, "ERROR|Room has no other participants")
			return
		}
	} else {
		if strings.EqualFold(target, sender) {
			s.sendLine(sess, "ERROR|Cannot send file to yourself")
			return
		}
		exists, err := s.db.UserExists(target)
		if err != nil {
			s.dbError(sess, "look up file target", err)
			return
		}
		if !exists {
			s.sendLine(sess, fmt.Sprintf("ERROR|User '%s' does not exist", target))
			return
		}
		receivers = []string{target}
	}

	sf, err := s.files.Begin(sender, filename, size, receivers, roomName)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			s.sendLine(sess, "ERROR|File too large (limit 200 MB)")
		} else {
			errorLog.Printf("Session %d: upload setup failed: %v", sess.ID, err)
			s.sendLine(sess, "ERROR|FILE_UPLOAD_FAILED")
		}
		return
	}

	sess.SetActiveUpload(sf)
	log.Printf("[FILE] upload started %s (%d bytes) from %s to %v", filename, size, sender, receivers)
	s.sendLine(sess, fmt.Sprintf("FILE_UPLOAD_READY|%s|%s|%d", sf.ID, sf.Filename, sf.Size))
}

// handleFileAccept streams a stored file back to an accepting receiver. The
// receiver is marked accepted even if delivery fails, so a broken receiver
// cannot pin the stored file forever.
func (s *Server) handleFileAccept(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|FILE_NOT_FOUND")
		return
	}
	username := sess.Username()

	sf, err := s.files.Lookup(parts[1], username)
	if err != nil {
		s.sendLine(sess, "ERROR|FILE_NOT_FOUND")
		return
	}

	if err := s.files.StreamTo(sf, sess.Conn); err != nil {
		errorLog.Printf("Session %d: delivery of %s failed: %v", sess.ID, sf.ID, err)
		s.sendLine(sess, "ERROR|FILE_DELIVERY_FAILED")
	}

	if s.files.MarkAccepted(sf, username) {
		log.Printf("[FILE] %s fully resolved, temp data removed", sf.ID)
	}
}

// handleFileDeny marks a receiver as having declined and tells the sender.
func (s *Server) handleFileDeny(sess *Session, line string) {
	parts := strings.Split(line, "|")
	if len(parts) != 2 || parts[1] == "" {
		s.sendLine(sess, "ERROR|FILE_NOT_FOUND")
		return
	}
	username := sess.Username()

	sf, err := s.files.Lookup(parts[1], username)
	if err != nil {
		s.sendLine(sess, "ERROR|FILE_NOT_FOUND")
		return
	}

	if s.files.MarkDenied(sf, username) {
		log.Printf("[FILE] %s fully resolved, temp data removed", sf.ID)
	}
	if sender, online := s.presence.Get(sf.Sender); online {
		s.sendLine(sender, fmt.Sprintf("FILE_DENIED|%s|%s", username, sf.Filename))
	}
}

// tooLong rejects message text over the configured limit, if one is set.
func (s *Server) tooLong(sess *Session, text string) bool {
	limit := s.config.Limits.MaxMessageLength
	if limit > 0 && len(text) > limit {
		s.sendLine(sess, "ERROR|Message too long")
		return true
	}
	return false
}

// sendToRoom delivers a line to every online member of a room. An empty
// exceptUser sends to everyone, sender included.
func (s *Server) sendToRoom(roomName, exceptUser, line string) {
	members, ok := s.rooms.Members(roomName)
	if !ok {
		return
	}
	for _, member := range members {
		if exceptUser != "" && strings.EqualFold(member, exceptUser) {
			continue
		}
		if target, online := s.presence.Get(member); online {
			s.sendLine(target, line)
		}
	}
}

// broadcastExcept sends a line to every authenticated session except one.
func (s *Server) broadcastExcept(exceptID uint64, line string) {
	for _, target := range s.presence.Authenticated() {
		if target.ID == exceptID {
			continue
		}
		s.sendLine(target, line)
	}
}
