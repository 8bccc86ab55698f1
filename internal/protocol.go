package internal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server -> client event types.
const (
	EventConnection     = "connection"
	EventNewMessage     = "new_message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventUserStatus     = "user_status_update"
	EventTypingUpdate   = "typing_update"
	EventRoomUpdate     = "room_update"
)

// Client -> server command types.
const (
	CmdJoinRoom     = "join_room"
	CmdLeaveRoom    = "leave_room"
	CmdSendMessage  = "send_message"
	CmdTyping       = "typing"
	CmdUpdateStatus = "update_status"
)

// Message content kinds carried in send_message.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Frame is the json envelope both sides exchange over the websocket. The
// payload stays raw until the type is known.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeFrame parses a raw websocket frame and rejects anything without a
// type discriminator.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return frame, nil
}

// EncodeFrame marshals a payload into the envelope.
func EncodeFrame(frameType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return json.Marshal(Frame{Type: frameType, Payload: raw})
}

// EncodeFramePayload marshals just the payload half of a frame.
func EncodeFramePayload(payload interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

// Room is a named channel that scopes messages and membership.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPrivate   bool      `json:"is_private"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
	LastMessage *Message  `json:"last_message,omitempty"`
}

// Message is a single chat message inside a room.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Type      string    `json:"message_type"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	IsEdited  bool      `json:"is_edited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TypingUser identifies one user currently composing in a room.
type TypingUser struct {
	UserID   int64  `json:"user_id"`
	RoomID   string `json:"room_id"`
	UserName string `json:"user_name"`
}

// ConnectionStatus is the payload of the connection event.
type ConnectionStatus struct {
	Status string `json:"status"`
}

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// TypingUpdate replaces a room's typing list wholesale; expiry is
// server-driven, each event carries the full current list.
type TypingUpdate struct {
	RoomID      string       `json:"room_id"`
	TypingUsers []TypingUser `json:"typing_users"`
}

// MessageDeleted is the payload of message_deleted.
type MessageDeleted struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
}

// UserStatus is the payload of user_status_update.
type UserStatus struct {
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	IsOnline      bool      `json:"is_online"`
	LastSeen      time.Time `json:"last_seen"`
	StatusMessage string    `json:"status_message,omitempty"`
}

// JoinRoomCmd asks the server to route a room's events to this connection.
// The server only learns membership routing from these commands, so they are
// replayed after every fresh connection.
type JoinRoomCmd struct {
	RoomID string `json:"room_id"`
}

// LeaveRoomCmd stops routing for a room.
type LeaveRoomCmd struct {
	RoomID string `json:"room_id"`
}

// SendMessageCmd submits a message; it becomes visible only once the server
// echoes the resulting new_message event.
type SendMessageCmd struct {
	RoomID      string `json:"room_id"`
	Content     string `json:"content"`
	ReplyTo     string `json:"reply_to,omitempty"`
	MessageType string `json:"message_type"`
}

// TypingCmd signals composing state for a room.
type TypingCmd struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// UpdateStatusCmd publishes presence for the local user.
type UpdateStatusCmd struct {
	IsOnline      bool   `json:"is_online"`
	StatusMessage string `json:"status_message,omitempty"`
}
