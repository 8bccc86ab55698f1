package internal

import (
	"log"
	"sync"
	"time"
)

const typingExpiry = 4 * time.Second

type typingEntry struct {
	userName string
	deadline time.Time
}

// Hub tracks connected clients and which rooms each connection asked to
// receive. Routing is connection-scoped: it is rebuilt from join_room commands
// after every reconnect, so the hub never consults membership rows itself.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	rooms   map[string]map[*wsClient]bool
	typing  map[string]map[int64]typingEntry

	metrics *Metrics
	done    chan struct{}
	once    sync.Once
}

func NewHub(metrics *Metrics) *Hub {
	hub := &Hub{
		clients: make(map[*wsClient]bool),
		rooms:   make(map[string]map[*wsClient]bool),
		typing:  make(map[string]map[int64]typingEntry),
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go hub.sweepTyping()
	return hub
}

// Close stops the typing sweeper.
func (hub *Hub) Close() {
	hub.once.Do(func() { close(hub.done) })
}

func (hub *Hub) register(client *wsClient) {
	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()
}

func (hub *Hub) unregister(client *wsClient) {
	hub.mu.Lock()
	if _, ok := hub.clients[client]; !ok {
		hub.mu.Unlock()
		return
	}
	delete(hub.clients, client)
	for roomID, members := range hub.rooms {
		if members[client] {
			delete(members, client)
			if len(members) == 0 {
				delete(hub.rooms, roomID)
			}
		}
	}
	hub.mu.Unlock()
	client.shutdown()
}

// joinRoom subscribes a connection to a room's event stream.
func (hub *Hub) joinRoom(client *wsClient, roomID string) {
	hub.mu.Lock()
	members, ok := hub.rooms[roomID]
	if !ok {
		members = make(map[*wsClient]bool)
		hub.rooms[roomID] = members
	}
	members[client] = true
	hub.mu.Unlock()
}

func (hub *Hub) leaveRoom(client *wsClient, roomID string) {
	hub.mu.Lock()
	if members, ok := hub.rooms[roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(hub.rooms, roomID)
		}
	}
	hub.mu.Unlock()
	hub.clearTyping(roomID, client.userID)
}

// BroadcastRoom fans an event out to every connection routed to the room,
// the originator included; the echo is the sender's confirmation.
func (hub *Hub) BroadcastRoom(roomID, frameType string, payload interface{}) {
	data, err := EncodeFrame(frameType, payload)
	if err != nil {
		log.Printf("hub: %v", err)
		return
	}
	hub.mu.RLock()
	members := make([]*wsClient, 0, len(hub.rooms[roomID]))
	for client := range hub.rooms[roomID] {
		members = append(members, client)
	}
	hub.mu.RUnlock()

	for _, client := range members {
		hub.deliver(client, data)
	}
	hub.metrics.EventsSent.WithLabelValues(frameType).Add(float64(len(members)))
}

// BroadcastAll sends an event to every connected client (presence updates).
func (hub *Hub) BroadcastAll(frameType string, payload interface{}) {
	data, err := EncodeFrame(frameType, payload)
	if err != nil {
		log.Printf("hub: %v", err)
		return
	}
	hub.mu.RLock()
	clients := make([]*wsClient, 0, len(hub.clients))
	for client := range hub.clients {
		clients = append(clients, client)
	}
	hub.mu.RUnlock()

	for _, client := range clients {
		hub.deliver(client, data)
	}
	hub.metrics.EventsSent.WithLabelValues(frameType).Add(float64(len(clients)))
}

// deliver enqueues a frame; a client too slow to drain its buffer is dropped
// to keep fan-out healthy. The send channel is never closed, so broadcasters
// holding an older member snapshot can still deliver here without racing a
// concurrent drop.
func (hub *Hub) deliver(client *wsClient, data []byte) {
	select {
	case client.send <- data:
	default:
		hub.unregister(client)
	}
}

// setTyping records or clears a composer and rebroadcasts the room's full
// typing list. Expiry is server-driven: entries lapse after typingExpiry even
// if the stop signal never arrives.
func (hub *Hub) setTyping(roomID string, userID int64, userName string, isTyping bool) {
	hub.mu.Lock()
	room, ok := hub.typing[roomID]
	if !ok {
		if !isTyping {
			hub.mu.Unlock()
			return
		}
		room = make(map[int64]typingEntry)
		hub.typing[roomID] = room
	}
	if isTyping {
		room[userID] = typingEntry{userName: userName, deadline: time.Now().Add(typingExpiry)}
	} else {
		delete(room, userID)
		if len(room) == 0 {
			delete(hub.typing, roomID)
		}
	}
	hub.mu.Unlock()
	hub.broadcastTyping(roomID)
}

func (hub *Hub) clearTyping(roomID string, userID int64) {
	hub.mu.Lock()
	room, ok := hub.typing[roomID]
	if ok {
		if _, had := room[userID]; !had {
			ok = false
		}
		delete(room, userID)
		if len(room) == 0 {
			delete(hub.typing, roomID)
		}
	}
	hub.mu.Unlock()
	if ok {
		hub.broadcastTyping(roomID)
	}
}

func (hub *Hub) broadcastTyping(roomID string) {
	hub.mu.RLock()
	entries := hub.typing[roomID]
	users := make([]TypingUser, 0, len(entries))
	for userID, entry := range entries {
		users = append(users, TypingUser{UserID: userID, RoomID: roomID, UserName: entry.userName})
	}
	hub.mu.RUnlock()
	hub.BroadcastRoom(roomID, EventTypingUpdate, TypingUpdate{RoomID: roomID, TypingUsers: users})
}

// sweepTyping expires stale composers about once a second.
func (hub *Hub) sweepTyping() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-hub.done:
			return
		case now := <-ticker.C:
			var stale []string
			hub.mu.Lock()
			for roomID, room := range hub.typing {
				changed := false
				for userID, entry := range room {
					if now.After(entry.deadline) {
						delete(room, userID)
						changed = true
					}
				}
				if len(room) == 0 {
					delete(hub.typing, roomID)
				}
				if changed {
					stale = append(stale, roomID)
				}
			}
			hub.mu.Unlock()
			for _, roomID := range stale {
				hub.broadcastTyping(roomID)
			}
		}
	}
}
