package internal

import "sync"

// Snapshot is an immutable view of all chat state. Every mutation on
// RoomState produces a fresh snapshot, so consumers detect change by pointer
// identity and may read a snapshot without locking.
type Snapshot struct {
	Rooms    map[string]Room
	Messages map[string][]Message
	Typing   map[string][]TypingUser
	Joined   map[string]struct{}
	Online   map[int64]UserStatus
}

// RoomState exclusively owns mutable chat state. The connection layer never
// writes here directly; only coordinator handlers do.
type RoomState struct {
	mu   sync.RWMutex
	snap *Snapshot
}

func NewRoomState() *RoomState {
	return &RoomState{snap: &Snapshot{
		Rooms:    map[string]Room{},
		Messages: map[string][]Message{},
		Typing:   map[string][]TypingUser{},
		Joined:   map[string]struct{}{},
		Online:   map[int64]UserStatus{},
	}}
}

// Snapshot returns the current immutable view.
func (s *RoomState) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *RoomState) mutate(apply func(next *Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := &Snapshot{
		Rooms:    s.snap.Rooms,
		Messages: s.snap.Messages,
		Typing:   s.snap.Typing,
		Joined:   s.snap.Joined,
		Online:   s.snap.Online,
	}
	apply(next)
	s.snap = next
}

func cloneRooms(m map[string]Room) map[string]Room {
	out := make(map[string]Room, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMessages(m map[string][]Message) map[string][]Message {
	out := make(map[string][]Message, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTyping(m map[string][]TypingUser) map[string][]TypingUser {
	out := make(map[string][]TypingUser, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneOnline(m map[int64]UserStatus) map[int64]UserStatus {
	out := make(map[int64]UserStatus, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UpsertRoom inserts or replaces a room by id.
func (s *RoomState) UpsertRoom(room Room) {
	s.mutate(func(next *Snapshot) {
		next.Rooms = cloneRooms(next.Rooms)
		next.Rooms[room.ID] = room
	})
}

// SetRooms replaces the whole room map from an initial fetch.
func (s *RoomState) SetRooms(rooms []Room) {
	s.mutate(func(next *Snapshot) {
		out := make(map[string]Room, len(rooms))
		for _, room := range rooms {
			out[room.ID] = room
		}
		next.Rooms = out
	})
}

// ApplyNewMessage appends to the room's list, creating the list when the room
// has no cache yet. Duplicate ids are ignored so a replayed echo cannot
// double-insert.
func (s *RoomState) ApplyNewMessage(msg Message) {
	s.mutate(func(next *Snapshot) {
		list := next.Messages[msg.RoomID]
		for _, existing := range list {
			if existing.ID == msg.ID {
				return
			}
		}
		next.Messages = cloneMessages(next.Messages)
		appended := make([]Message, len(list), len(list)+1)
		copy(appended, list)
		next.Messages[msg.RoomID] = append(appended, msg)

		if room, ok := next.Rooms[msg.RoomID]; ok {
			room.LastMessage = &msg
			next.Rooms = cloneRooms(next.Rooms)
			next.Rooms[msg.RoomID] = room
		}
	})
}

// ApplyMessageUpdate replaces a message by id; unknown ids are a no-op.
func (s *RoomState) ApplyMessageUpdate(msg Message) {
	s.mutate(func(next *Snapshot) {
		list := next.Messages[msg.RoomID]
		for i, existing := range list {
			if existing.ID == msg.ID {
				updated := make([]Message, len(list))
				copy(updated, list)
				updated[i] = msg
				next.Messages = cloneMessages(next.Messages)
				next.Messages[msg.RoomID] = updated
				return
			}
		}
	})
}

// ApplyMessageDelete filters a message out of the room's list by id.
func (s *RoomState) ApplyMessageDelete(roomID, messageID string) {
	s.mutate(func(next *Snapshot) {
		list := next.Messages[roomID]
		filtered := make([]Message, 0, len(list))
		for _, existing := range list {
			if existing.ID != messageID {
				filtered = append(filtered, existing)
			}
		}
		if len(filtered) == len(list) {
			return
		}
		next.Messages = cloneMessages(next.Messages)
		next.Messages[roomID] = filtered
	})
}

// SetRoomMessages installs a fetched history for a room wholesale.
func (s *RoomState) SetRoomMessages(roomID string, msgs []Message) {
	s.mutate(func(next *Snapshot) {
		next.Messages = cloneMessages(next.Messages)
		next.Messages[roomID] = msgs
	})
}

// ClearRoomMessages drops the cached list for a room.
func (s *RoomState) ClearRoomMessages(roomID string) {
	s.mutate(func(next *Snapshot) {
		if _, ok := next.Messages[roomID]; !ok {
			return
		}
		next.Messages = cloneMessages(next.Messages)
		delete(next.Messages, roomID)
	})
}

// HasMessages reports whether a room has a cached message list.
func (s *RoomState) HasMessages(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snap.Messages[roomID]
	return ok
}

// SetTypingUsers replaces the typing list for a room wholesale; the server
// owns expiry and sends a fresh list per event.
func (s *RoomState) SetTypingUsers(roomID string, users []TypingUser) {
	s.mutate(func(next *Snapshot) {
		next.Typing = cloneTyping(next.Typing)
		if len(users) == 0 {
			delete(next.Typing, roomID)
			return
		}
		next.Typing[roomID] = users
	})
}

// SetUserStatus records a user's presence; a user going offline is dropped
// from the online set.
func (s *RoomState) SetUserStatus(status UserStatus) {
	s.mutate(func(next *Snapshot) {
		next.Online = cloneOnline(next.Online)
		if !status.IsOnline {
			delete(next.Online, status.UserID)
			return
		}
		next.Online[status.UserID] = status
	})
}

// SetJoinedRooms replaces the joined-room set.
func (s *RoomState) SetJoinedRooms(ids []string) {
	s.mutate(func(next *Snapshot) {
		joined := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			joined[id] = struct{}{}
		}
		next.Joined = joined
	})
}

// AddJoinedRoom records membership for one room.
func (s *RoomState) AddJoinedRoom(roomID string) {
	s.mutate(func(next *Snapshot) {
		joined := make(map[string]struct{}, len(next.Joined)+1)
		for id := range next.Joined {
			joined[id] = struct{}{}
		}
		joined[roomID] = struct{}{}
		next.Joined = joined
	})
}

// RemoveJoinedRoom drops membership for one room.
func (s *RoomState) RemoveJoinedRoom(roomID string) {
	s.mutate(func(next *Snapshot) {
		joined := make(map[string]struct{}, len(next.Joined))
		for id := range next.Joined {
			if id != roomID {
				joined[id] = struct{}{}
			}
		}
		next.Joined = joined
	})
}

// JoinedRoom reports whether the local user is a member of the room.
func (s *RoomState) JoinedRoom(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snap.Joined[roomID]
	return ok
}
