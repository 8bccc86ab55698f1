package internal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 5
)

// wsClient wraps one authenticated websocket connection and its buffered
// send queue. One connection serves all of the user's rooms.
//
// send is never closed: concurrent broadcasters hold only a snapshot of the
// member list, so a close would race their sends. Shutdown is signalled via
// done instead, and writePump exits on it.
type wsClient struct {
	server       *Server
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	userID       int64
	username     string
	messageTimes []time.Time
}

func newWSClient(server *Server, conn *websocket.Conn, userID int64, username string) *wsClient {
	return &wsClient{
		server:       server,
		conn:         conn,
		send:         make(chan []byte, 256),
		done:         make(chan struct{}),
		userID:       userID,
		username:     username,
		messageTimes: make([]time.Time, 0, rateLimitBurst),
	}
}

// shutdown asks writePump to stop. Safe to call more than once and
// concurrently with in-flight deliveries.
func (client *wsClient) shutdown() {
	client.closeOnce.Do(func() { close(client.done) })
}

func (client *wsClient) readPump() {
	server := client.server
	defer func() {
		server.hub.unregister(client)
		client.conn.Close()
		server.metrics.ActiveConns.Dec()
		if server.presence.Disconnected(client.userID) {
			server.hub.BroadcastAll(EventUserStatus, server.presence.Status(client.userID, client.username))
		}
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// normal close or read error; deferred cleanup runs
			break
		}
		frame, err := DecodeFrame(payload)
		if err != nil {
			log.Printf("ws: discarding frame from %s: %v", client.username, err)
			continue
		}
		client.handleCommand(frame)
	}
}

func (client *wsClient) handleCommand(frame Frame) {
	ctx := context.Background()
	server := client.server
	switch frame.Type {
	case CmdJoinRoom:
		var cmd JoinRoomCmd
		if err := json.Unmarshal(frame.Payload, &cmd); err != nil || cmd.RoomID == "" {
			return
		}
		// Routing only follows real membership rows.
		member, err := server.store.IsMember(ctx, cmd.RoomID, client.userID)
		if err != nil || !member {
			log.Printf("ws: join_room %s denied for %s", cmd.RoomID, client.username)
			return
		}
		server.hub.joinRoom(client, cmd.RoomID)

	case CmdLeaveRoom:
		var cmd LeaveRoomCmd
		if err := json.Unmarshal(frame.Payload, &cmd); err != nil || cmd.RoomID == "" {
			return
		}
		server.hub.leaveRoom(client, cmd.RoomID)

	case CmdSendMessage:
		var cmd SendMessageCmd
		if err := json.Unmarshal(frame.Payload, &cmd); err != nil {
			return
		}
		client.handleSendMessage(ctx, cmd)

	case CmdTyping:
		var cmd TypingCmd
		if err := json.Unmarshal(frame.Payload, &cmd); err != nil || cmd.RoomID == "" {
			return
		}
		server.hub.setTyping(cmd.RoomID, client.userID, client.username, cmd.IsTyping)

	case CmdUpdateStatus:
		var cmd UpdateStatusCmd
		if err := json.Unmarshal(frame.Payload, &cmd); err != nil {
			return
		}
		server.presence.SetStatusMessage(client.userID, cmd.StatusMessage)
		server.hub.BroadcastAll(EventUserStatus, server.presence.Status(client.userID, client.username))

	default:
		log.Printf("ws: unknown command %q from %s", frame.Type, client.username)
	}
}

func (client *wsClient) handleSendMessage(ctx context.Context, cmd SendMessageCmd) {
	server := client.server
	now := time.Now()
	if !client.allowMessage(now) {
		// Dropped frame, no echo: the sender sees the message never land.
		server.metrics.Messages.WithLabelValues("rate_limited").Inc()
		log.Printf("ws: rate limiting %s in %s", client.username, cmd.RoomID)
		return
	}
	if cmd.RoomID == "" || cmd.Content == "" {
		server.metrics.Messages.WithLabelValues("rejected").Inc()
		return
	}
	member, err := server.store.IsMember(ctx, cmd.RoomID, client.userID)
	if err != nil || !member {
		server.metrics.Messages.WithLabelValues("rejected").Inc()
		return
	}
	msgType := cmd.MessageType
	switch msgType {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
	default:
		msgType = MessageTypeText
	}
	msg, err := server.store.InsertMessage(ctx, cmd.RoomID, client.userID, cmd.Content, msgType, cmd.ReplyTo)
	if err != nil {
		log.Printf("ws: store message: %v", err)
		server.metrics.Messages.WithLabelValues("rejected").Inc()
		return
	}
	server.metrics.Messages.WithLabelValues("stored").Inc()
	// All members get the echo, the sender included.
	server.hub.BroadcastRoom(cmd.RoomID, EventNewMessage, storedMessage(msg))
	// Stop showing the sender as composing.
	server.hub.clearTyping(cmd.RoomID, client.userID)
}

func (client *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowMessage applies a per-connection sliding window limit.
func (client *wsClient) allowMessage(now time.Time) bool {
	cutoff := now.Add(-rateLimitWindow)
	idx := 0
	for _, ts := range client.messageTimes {
		if ts.After(cutoff) {
			client.messageTimes[idx] = ts
			idx++
		}
	}
	client.messageTimes = client.messageTimes[:idx]
	if len(client.messageTimes) >= rateLimitBurst {
		return false
	}
	client.messageTimes = append(client.messageTimes, now)
	return true
}
