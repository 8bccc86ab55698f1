package internal

import (
	"sync"
	"time"
)

type presenceEntry struct {
	conns         int
	lastSeen      time.Time
	statusMessage string
}

// PresenceTracker keeps per-user connection counts, last-seen times, and the
// optional status message published via update_status. A user is online while
// at least one websocket connection is open.
type PresenceTracker struct {
	mu    sync.Mutex
	users map[int64]*presenceEntry
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{users: make(map[int64]*presenceEntry)}
}

// Connected records a new connection and reports whether the user just came
// online.
func (p *PresenceTracker) Connected(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[userID]
	if !ok {
		entry = &presenceEntry{}
		p.users[userID] = entry
	}
	entry.conns++
	entry.lastSeen = time.Now()
	return entry.conns == 1
}

// Disconnected records a closed connection and reports whether the user just
// went fully offline.
func (p *PresenceTracker) Disconnected(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[userID]
	if !ok {
		return false
	}
	entry.lastSeen = time.Now()
	if entry.conns > 1 {
		entry.conns--
		return false
	}
	entry.conns = 0
	return true
}

// SetStatusMessage stores the user's published status text.
func (p *PresenceTracker) SetStatusMessage(userID int64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[userID]
	if !ok {
		entry = &presenceEntry{}
		p.users[userID] = entry
	}
	entry.statusMessage = message
}

// Status builds the user_status_update payload for a user.
func (p *PresenceTracker) Status(userID int64, username string) UserStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[userID]
	if !ok {
		return UserStatus{UserID: userID, Username: username}
	}
	return UserStatus{
		UserID:        userID,
		Username:      username,
		IsOnline:      entry.conns > 0,
		LastSeen:      entry.lastSeen,
		StatusMessage: entry.statusMessage,
	}
}
