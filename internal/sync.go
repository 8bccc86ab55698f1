package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Directory is the persistence collaborator: room, membership, and message
// records plus substring search. The production implementation talks REST to
// the expenso server; tests substitute a fake.
type Directory interface {
	ListRooms(ctx context.Context) ([]Room, error)
	CreateRoom(ctx context.Context, name, description string, isPrivate bool) (Room, error)
	SearchRooms(ctx context.Context, query string) ([]Room, error)

	JoinedRoomIDs(ctx context.Context) ([]string, error)
	IsMember(ctx context.Context, roomID string) (bool, error)
	AddMember(ctx context.Context, roomID string) error
	RemoveMember(ctx context.Context, roomID string) error

	RoomMessages(ctx context.Context, roomID string) ([]Message, error)
	UpdateMessage(ctx context.Context, messageID, content string) error
	DeleteMessage(ctx context.Context, messageID string) error
	SearchMessages(ctx context.Context, query, roomID string) ([]Message, error)
}

var (
	// ErrNoActiveRoom is returned when a message action needs a focal room.
	ErrNoActiveRoom = errors.New("no active room selected")
	// ErrEmptyMessage is returned for whitespace-only message content.
	ErrEmptyMessage = errors.New("message content is empty")
)

// RoomCreationError wraps a persistence failure during room creation. It is
// surfaced to the caller and never retried.
type RoomCreationError struct {
	Name string
	Err  error
}

func (e *RoomCreationError) Error() string {
	return fmt.Sprintf("create room %q: %v", e.Name, e.Err)
}

func (e *RoomCreationError) Unwrap() error { return e.Err }

const typingQuietPeriod = 2 * time.Second

// Coordinator merges server push events with on-demand REST fetches into the
// single per-room view held by RoomState, and exposes the action API the UI
// drives. All persistence failures are returned to the caller; transport-level
// send failures are silent drops by design.
type Coordinator struct {
	conn   *ConnectionManager
	dir    Directory
	state  *RoomState
	tokens TokenSource

	mu          sync.Mutex
	activeRoom  string
	typingTimer *time.Timer
	typingLive  bool
	subs        []Subscription

	updates chan struct{}
}

// NewCoordinator wires the coordinator to an injected connection manager,
// directory, and state store.
func NewCoordinator(conn *ConnectionManager, dir Directory, state *RoomState, tokens TokenSource) *Coordinator {
	return &Coordinator{
		conn:    conn,
		dir:     dir,
		state:   state,
		tokens:  tokens,
		updates: make(chan struct{}, 1),
	}
}

// State exposes the snapshot store for read-only consumers.
func (c *Coordinator) State() *RoomState { return c.state }

// Updates delivers a coalesced signal after every store mutation so UI
// subscribers can re-render from the latest snapshot.
func (c *Coordinator) Updates() <-chan struct{} { return c.updates }

func (c *Coordinator) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Initialize performs the initial pull (rooms with their most recent message,
// joined-room ids), registers push handlers, and replays join_room for every
// membership so the server re-learns routing after a fresh connection. A
// missing session makes it a quiet no-op.
func (c *Coordinator) Initialize(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil || token == "" {
		return nil
	}

	c.registerHandlers()

	rooms, err := c.dir.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	c.state.SetRooms(rooms)

	ids, err := c.dir.JoinedRoomIDs(ctx)
	if err != nil {
		return fmt.Errorf("load joined rooms: %w", err)
	}
	c.state.SetJoinedRooms(ids)
	for _, id := range ids {
		c.conn.Send(CmdJoinRoom, JoinRoomCmd{RoomID: id})
	}
	c.notify()
	return nil
}

// registerHandlers subscribes the event-application layer exactly once.
func (c *Coordinator) registerHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) > 0 {
		return
	}
	c.subs = []Subscription{
		c.conn.Subscribe(EventNewMessage, c.onNewMessage),
		c.conn.Subscribe(EventMessageUpdated, c.onMessageUpdated),
		c.conn.Subscribe(EventMessageDeleted, c.onMessageDeleted),
		c.conn.Subscribe(EventTypingUpdate, c.onTypingUpdate),
		c.conn.Subscribe(EventUserStatus, c.onUserStatus),
		c.conn.Subscribe(EventRoomUpdate, c.onRoomUpdate),
		c.conn.Subscribe(EventConnection, c.onConnection),
	}
}

// Close removes the push handlers and stops the typing timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()
	for _, sub := range subs {
		c.conn.Unsubscribe(sub)
	}
}

func (c *Coordinator) onNewMessage(payload json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("sync: bad new_message payload: %v", err)
		return
	}
	c.state.ApplyNewMessage(msg)
	c.notify()
}

func (c *Coordinator) onMessageUpdated(payload json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("sync: bad message_updated payload: %v", err)
		return
	}
	c.state.ApplyMessageUpdate(msg)
	c.notify()
}

func (c *Coordinator) onMessageDeleted(payload json.RawMessage) {
	var del MessageDeleted
	if err := json.Unmarshal(payload, &del); err != nil {
		log.Printf("sync: bad message_deleted payload: %v", err)
		return
	}
	c.state.ApplyMessageDelete(del.RoomID, del.MessageID)
	c.notify()
}

func (c *Coordinator) onTypingUpdate(payload json.RawMessage) {
	var upd TypingUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		log.Printf("sync: bad typing_update payload: %v", err)
		return
	}
	c.state.SetTypingUsers(upd.RoomID, upd.TypingUsers)
	c.notify()
}

func (c *Coordinator) onUserStatus(payload json.RawMessage) {
	var status UserStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		log.Printf("sync: bad user_status_update payload: %v", err)
		return
	}
	c.state.SetUserStatus(status)
	c.notify()
}

func (c *Coordinator) onRoomUpdate(payload json.RawMessage) {
	var room Room
	if err := json.Unmarshal(payload, &room); err != nil {
		log.Printf("sync: bad room_update payload: %v", err)
		return
	}
	c.state.UpsertRoom(room)
	c.notify()
}

func (c *Coordinator) onConnection(payload json.RawMessage) {
	var status ConnectionStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return
	}
	if status.Status == StatusConnected {
		// Routing is connection-scoped: replay memberships on every connect.
		snap := c.state.Snapshot()
		for id := range snap.Joined {
			c.conn.Send(CmdJoinRoom, JoinRoomCmd{RoomID: id})
		}
	}
	c.notify()
}

// CreateRoom persists the room, then immediately joins it.
func (c *Coordinator) CreateRoom(ctx context.Context, name, description string, isPrivate bool) (Room, error) {
	room, err := c.dir.CreateRoom(ctx, name, description, isPrivate)
	if err != nil {
		return Room{}, &RoomCreationError{Name: name, Err: err}
	}
	c.state.UpsertRoom(room)
	if err := c.JoinRoom(ctx, room.ID); err != nil {
		return room, err
	}
	return room, nil
}

// JoinRoom is idempotent against duplicate joins: membership is checked before
// inserting, the joined set holds the id once, and join_room is sent per call
// to (re)establish routing.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string) error {
	member, err := c.dir.IsMember(ctx, roomID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		if err := c.dir.AddMember(ctx, roomID); err != nil {
			return fmt.Errorf("join room: %w", err)
		}
	}
	c.state.AddJoinedRoom(roomID)
	c.conn.Send(CmdJoinRoom, JoinRoomCmd{RoomID: roomID})
	if !c.state.HasMessages(roomID) {
		if err := c.fetchMessages(ctx, roomID); err != nil {
			return err
		}
	}
	c.notify()
	return nil
}

// LeaveRoom removes membership, stops routing, and drops all cached state for
// the room, including the active-room selection when it pointed there.
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID string) error {
	if err := c.dir.RemoveMember(ctx, roomID); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	c.conn.Send(CmdLeaveRoom, LeaveRoomCmd{RoomID: roomID})
	c.state.RemoveJoinedRoom(roomID)
	c.state.ClearRoomMessages(roomID)

	c.mu.Lock()
	if c.activeRoom == roomID {
		c.activeRoom = ""
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// ActiveRoom returns the focal room id, or "".
func (c *Coordinator) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

// SetActiveRoom switches the focal room and fetches history on a cache miss.
// An empty id clears the selection.
func (c *Coordinator) SetActiveRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	c.activeRoom = roomID
	c.mu.Unlock()
	if roomID != "" && !c.state.HasMessages(roomID) {
		if err := c.fetchMessages(ctx, roomID); err != nil {
			return err
		}
	}
	c.notify()
	return nil
}

func (c *Coordinator) fetchMessages(ctx context.Context, roomID string) error {
	msgs, err := c.dir.RoomMessages(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	c.state.SetRoomMessages(roomID, msgs)
	return nil
}

// SendMessage submits a text message for the active room over the transport.
// Nothing is inserted locally: the message appears once the server echo
// arrives as new_message. A send while disconnected is dropped by the
// connection layer and produces no echo.
func (c *Coordinator) SendMessage(content, replyTo string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	roomID := c.ActiveRoom()
	if roomID == "" {
		return ErrNoActiveRoom
	}
	c.conn.Send(CmdSendMessage, SendMessageCmd{
		RoomID:      roomID,
		Content:     trimmed,
		ReplyTo:     replyTo,
		MessageType: MessageTypeText,
	})
	return nil
}

// EditMessage updates content through the directory; the visible change
// arrives via the message_updated echo.
func (c *Coordinator) EditMessage(ctx context.Context, messageID, content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if err := c.dir.UpdateMessage(ctx, messageID, trimmed); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message through the directory; the visible change
// arrives via the message_deleted echo.
func (c *Coordinator) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.dir.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// NotifyTyping debounces keystrokes into typing signals for the active room:
// the first keystroke sends typing{true}, each keystroke re-arms a 2 second
// timer, and one typing{false} goes out after the quiet period.
func (c *Coordinator) NotifyTyping() {
	roomID := c.ActiveRoom()
	if roomID == "" {
		return
	}
	c.mu.Lock()
	if !c.typingLive {
		c.typingLive = true
		c.mu.Unlock()
		c.SendTyping(roomID, true)
		c.mu.Lock()
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(typingQuietPeriod, func() {
		c.mu.Lock()
		c.typingLive = false
		c.mu.Unlock()
		c.SendTyping(roomID, false)
	})
	c.mu.Unlock()
}

// SendTyping is the raw fire-and-forget typing command.
func (c *Coordinator) SendTyping(roomID string, isTyping bool) {
	c.conn.Send(CmdTyping, TypingCmd{RoomID: roomID, IsTyping: isTyping})
}

// UpdateStatus publishes presence for the local user.
func (c *Coordinator) UpdateStatus(isOnline bool, statusMessage string) {
	c.conn.Send(CmdUpdateStatus, UpdateStatusCmd{IsOnline: isOnline, StatusMessage: statusMessage})
}

// SearchRooms is a read-only substring query, capped at 20 results.
func (c *Coordinator) SearchRooms(ctx context.Context, query string) ([]Room, error) {
	rooms, err := c.dir.SearchRooms(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search rooms: %w", err)
	}
	return rooms, nil
}

// SearchMessages is a read-only substring query, capped at 50 results,
// most recent first. An empty roomID searches across joined rooms.
func (c *Coordinator) SearchMessages(ctx context.Context, query, roomID string) ([]Message, error) {
	msgs, err := c.dir.SearchMessages(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return msgs, nil
}
