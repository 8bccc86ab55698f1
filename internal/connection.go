package internal

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle state of the logical transport connection.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TokenSource supplies the bearer token used for the websocket handshake and
// REST calls. An empty token means no active session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// wireConn is the slice of *websocket.Conn the manager needs; tests substitute
// their own implementation.
type wireConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the transport. The default dials with gorilla's DefaultDialer.
type Dialer func(ctx context.Context, wsURL string) (wireConn, error)

func defaultDialer(ctx context.Context, wsURL string) (wireConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const (
	defaultBaseRetryDelay = 2 * time.Second
	maxReconnectAttempts  = 5
)

// ConnectionManager owns the single websocket connection: it establishes it,
// detects loss, drives bounded-backoff reconnection, and fans received frames
// out to subscribed handlers. It never touches chat state itself.
type ConnectionManager struct {
	wsURL  string
	tokens TokenSource
	dial   Dialer

	baseDelay  time.Duration
	maxRetries int
	afterFunc  func(d time.Duration, fn func()) *time.Timer

	mu         sync.Mutex
	writeMu    sync.Mutex
	state      ConnState
	attempts   int
	conn       wireConn
	retryTimer *time.Timer

	bus *eventBus
}

// NewConnectionManager builds a manager for the given websocket endpoint.
// The caller owns the instance and injects it where needed; there is no
// package-level singleton.
func NewConnectionManager(wsURL string, tokens TokenSource) *ConnectionManager {
	return &ConnectionManager{
		wsURL:      wsURL,
		tokens:     tokens,
		dial:       defaultDialer,
		baseDelay:  defaultBaseRetryDelay,
		maxRetries: maxReconnectAttempts,
		afterFunc:  time.AfterFunc,
		bus:        newEventBus(),
	}
}

// State reports the current connection state.
func (cm *ConnectionManager) State() ConnState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Subscribe registers a handler for an inbound event type.
func (cm *ConnectionManager) Subscribe(event string, handler EventHandler) Subscription {
	return cm.bus.Subscribe(event, handler)
}

// Unsubscribe removes a previously registered handler.
func (cm *ConnectionManager) Unsubscribe(sub Subscription) {
	cm.bus.Unsubscribe(sub)
}

// Connect starts a fresh connection cycle. It is a no-op while connecting or
// connected, and silent when no session token exists (the connection is
// optional until the user logs in). An explicit call also revives a manager
// whose automatic retries were exhausted.
func (cm *ConnectionManager) Connect(ctx context.Context) {
	cm.mu.Lock()
	cm.attempts = 0
	cm.mu.Unlock()
	cm.connect(ctx)
}

func (cm *ConnectionManager) connect(ctx context.Context) {
	cm.mu.Lock()
	if cm.state != ConnDisconnected {
		cm.mu.Unlock()
		return
	}
	cm.state = ConnConnecting
	cm.mu.Unlock()

	token, err := cm.tokens.Token(ctx)
	if err != nil || token == "" {
		// Not logged in: stay quiet, no retry churn.
		cm.setState(ConnDisconnected)
		return
	}

	endpoint, err := buildWSURL(cm.wsURL, token)
	if err != nil {
		log.Printf("connection: bad websocket url %q: %v", cm.wsURL, err)
		cm.setState(ConnDisconnected)
		return
	}

	conn, err := cm.dial(ctx, endpoint)
	if err != nil {
		cm.setState(ConnDisconnected)
		cm.scheduleRetry()
		return
	}

	cm.mu.Lock()
	cm.conn = conn
	cm.state = ConnConnected
	cm.attempts = 0
	cm.mu.Unlock()

	cm.emitConnection(StatusConnected)
	go cm.readLoop(conn)
}

func (cm *ConnectionManager) setState(state ConnState) {
	cm.mu.Lock()
	cm.state = state
	cm.mu.Unlock()
}

// scheduleRetry arms the backoff timer for the next attempt. Attempt n fires
// after baseDelay * 2^(n-1); after maxRetries the manager stays disconnected
// until an explicit Connect.
func (cm *ConnectionManager) scheduleRetry() {
	cm.mu.Lock()
	if cm.attempts >= cm.maxRetries {
		cm.mu.Unlock()
		log.Printf("connection: retries exhausted after %d attempts", cm.maxRetries)
		return
	}
	cm.attempts++
	attempt := cm.attempts
	delay := cm.baseDelay << (attempt - 1)
	if cm.retryTimer != nil {
		cm.retryTimer.Stop()
	}
	cm.retryTimer = cm.afterFunc(delay, func() {
		cm.connect(context.Background())
	})
	cm.mu.Unlock()
	log.Printf("connection: retry %d/%d in %s", attempt, cm.maxRetries, delay)
}

func (cm *ConnectionManager) readLoop(conn wireConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			cm.handleClosed(conn)
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			// Malformed frames are dropped; the connection stays up.
			log.Printf("connection: discarding frame: %v", err)
			continue
		}
		cm.bus.emit(frame.Type, frame.Payload)
	}
}

func (cm *ConnectionManager) handleClosed(conn wireConn) {
	cm.mu.Lock()
	if cm.conn != conn {
		// A deliberate Disconnect already detached this conn.
		cm.mu.Unlock()
		return
	}
	cm.conn = nil
	cm.state = ConnDisconnected
	cm.mu.Unlock()

	cm.emitConnection(StatusDisconnected)
	cm.scheduleRetry()
}

// Send transmits a command frame when connected. While disconnected the frame
// is logged and dropped; there is no queueing and no error to the caller.
func (cm *ConnectionManager) Send(frameType string, payload interface{}) {
	cm.mu.Lock()
	conn := cm.conn
	connected := cm.state == ConnConnected
	cm.mu.Unlock()

	if !connected || conn == nil {
		log.Printf("connection: dropping %s: not connected", frameType)
		return
	}
	data, err := EncodeFrame(frameType, payload)
	if err != nil {
		log.Printf("connection: %v", err)
		return
	}
	cm.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	cm.writeMu.Unlock()
	if err != nil {
		log.Printf("connection: write %s: %v", frameType, err)
	}
}

// Disconnect tears the transport down deterministically: the pending retry
// timer is cancelled and no reconnection is attempted.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	if cm.retryTimer != nil {
		cm.retryTimer.Stop()
		cm.retryTimer = nil
	}
	conn := cm.conn
	cm.conn = nil
	cm.state = ConnDisconnected
	cm.attempts = 0
	cm.mu.Unlock()

	if conn != nil {
		cm.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		cm.writeMu.Unlock()
		_ = conn.Close()
		cm.emitConnection(StatusDisconnected)
	}
}

func (cm *ConnectionManager) emitConnection(status string) {
	raw, err := EncodeFramePayload(ConnectionStatus{Status: status})
	if err != nil {
		return
	}
	cm.bus.emit(EventConnection, raw)
}

// buildWSURL embeds the session token in the handshake query string.
func buildWSURL(base string, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
