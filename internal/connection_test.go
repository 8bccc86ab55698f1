package internal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(context.Context) (string, error) { return s.token, nil }

// fakeWire is an in-memory wireConn: frames pushed into in come out of
// ReadMessage, Close unblocks the reader with an error.
type fakeWire struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeWire() *fakeWire {
	return &fakeWire{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (w *fakeWire) ReadMessage() (int, []byte, error) {
	select {
	case data := <-w.in:
		return 1, data, nil
	case <-w.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (w *fakeWire) WriteMessage(_ int, data []byte) error {
	select {
	case <-w.closed:
		return errors.New("connection closed")
	default:
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, append([]byte(nil), data...))
	return nil
}

func (w *fakeWire) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func (w *fakeWire) writeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func newTestManager(dial Dialer) *ConnectionManager {
	cm := NewConnectionManager("ws://localhost:0/ws", staticTokens{token: "tok"})
	cm.dial = dial
	cm.baseDelay = time.Millisecond
	return cm
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectEmitsSingleConnectedEvent(t *testing.T) {
	wire := newFakeWire()
	cm := newTestManager(func(context.Context, string) (wireConn, error) { return wire, nil })

	var connects atomic.Int32
	cm.Subscribe(EventConnection, func(payload json.RawMessage) {
		var status ConnectionStatus
		require.NoError(t, json.Unmarshal(payload, &status))
		if status.Status == StatusConnected {
			connects.Add(1)
		}
	})

	cm.Connect(context.Background())
	waitFor(t, func() bool { return cm.State() == ConnConnected }, "never reached connected state")

	// a second Connect while connected is a no-op
	cm.Connect(context.Background())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(1), connects.Load())
	cm.Disconnect()
}

func TestConnectWithoutTokenStaysQuiet(t *testing.T) {
	var dials atomic.Int32
	cm := NewConnectionManager("ws://localhost:0/ws", staticTokens{token: ""})
	cm.dial = func(context.Context, string) (wireConn, error) {
		dials.Add(1)
		return newFakeWire(), nil
	}

	cm.Connect(context.Background())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, ConnDisconnected, cm.State())
	assert.Zero(t, dials.Load(), "no dial without a session token")
}

func TestRetryCeilingStopsAfterFiveAttempts(t *testing.T) {
	var dials atomic.Int32
	cm := newTestManager(func(context.Context, string) (wireConn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	})

	cm.Connect(context.Background())

	// initial attempt plus five scheduled retries
	waitFor(t, func() bool { return dials.Load() == 6 }, "retries never ran")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(6), dials.Load(), "no retries past the ceiling")
	assert.Equal(t, ConnDisconnected, cm.State())

	// an explicit Connect resets the budget and tries again
	cm.Connect(context.Background())
	waitFor(t, func() bool { return dials.Load() >= 7 }, "explicit reconnect did not dial")
	cm.Disconnect()
}

func TestRetryDelaysDoubleFromBaseDelay(t *testing.T) {
	cm := newTestManager(func(context.Context, string) (wireConn, error) {
		return nil, errors.New("refused")
	})
	cm.baseDelay = 10 * time.Millisecond

	// Capture what scheduleRetry arms instead of letting timers fire, and
	// drive the scheduled attempts synchronously.
	var (
		mu      sync.Mutex
		delays  []time.Duration
		pending []func()
	)
	cm.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
		pending = append(pending, fn)
		return time.AfterFunc(time.Hour, func() {})
	}

	cm.Connect(context.Background())
	for {
		mu.Lock()
		var next func()
		if len(pending) > 0 {
			next = pending[0]
			pending = pending[1:]
		}
		mu.Unlock()
		if next == nil {
			break
		}
		next()
	}

	var want []time.Duration
	for attempt := 1; attempt <= cm.maxRetries; attempt++ {
		want = append(want, cm.baseDelay<<(attempt-1))
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, delays, "attempt n should wait baseDelay doubled n-1 times")
	cm.Disconnect()
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	var dials atomic.Int32
	cm := newTestManager(func(context.Context, string) (wireConn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	})
	cm.baseDelay = time.Hour

	cm.Connect(context.Background())
	waitFor(t, func() bool { return dials.Load() == 1 }, "initial dial never happened")

	cm.Disconnect()
	cm.mu.Lock()
	timer := cm.retryTimer
	attempts := cm.attempts
	cm.mu.Unlock()
	assert.Nil(t, timer, "pending retry timer is cleared")
	assert.Zero(t, attempts)
}

func TestConnectionLossSchedulesReconnect(t *testing.T) {
	first := newFakeWire()
	second := newFakeWire()
	wires := []*fakeWire{first, second}
	var dials atomic.Int32
	cm := newTestManager(func(context.Context, string) (wireConn, error) {
		n := dials.Add(1)
		if int(n) <= len(wires) {
			return wires[n-1], nil
		}
		return newFakeWire(), nil
	})

	var disconnects atomic.Int32
	cm.Subscribe(EventConnection, func(payload json.RawMessage) {
		var status ConnectionStatus
		if json.Unmarshal(payload, &status) == nil && status.Status == StatusDisconnected {
			disconnects.Add(1)
		}
	})

	cm.Connect(context.Background())
	waitFor(t, func() bool { return cm.State() == ConnConnected }, "never connected")

	// the server drops us
	first.Close()

	waitFor(t, func() bool { return dials.Load() >= 2 }, "no reconnect after loss")
	waitFor(t, func() bool { return cm.State() == ConnConnected }, "never reconnected")
	assert.Equal(t, int32(1), disconnects.Load())
	cm.Disconnect()
}

func TestReadLoopDispatchesAndSkipsMalformed(t *testing.T) {
	wire := newFakeWire()
	cm := newTestManager(func(context.Context, string) (wireConn, error) { return wire, nil })

	var got atomic.Value
	cm.Subscribe(EventNewMessage, func(payload json.RawMessage) {
		var msg Message
		if json.Unmarshal(payload, &msg) == nil {
			got.Store(msg)
		}
	})

	cm.Connect(context.Background())
	waitFor(t, func() bool { return cm.State() == ConnConnected }, "never connected")

	wire.in <- []byte(`not json at all`)
	wire.in <- []byte(`{"type":"new_message","payload":{"id":"m1","room_id":"r1","content":"hi"}}`)

	waitFor(t, func() bool { return got.Load() != nil }, "frame never dispatched")
	msg := got.Load().(Message)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, ConnConnected, cm.State(), "malformed frame does not kill the connection")
	cm.Disconnect()
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	cm := newTestManager(func(context.Context, string) (wireConn, error) {
		return nil, errors.New("refused")
	})

	assert.NotPanics(t, func() {
		cm.Send(CmdSendMessage, SendMessageCmd{RoomID: "r1", Content: "lost"})
	})
	assert.Equal(t, ConnDisconnected, cm.State())
}

func TestSendWritesFrameWhenConnected(t *testing.T) {
	wire := newFakeWire()
	cm := newTestManager(func(context.Context, string) (wireConn, error) { return wire, nil })

	cm.Connect(context.Background())
	waitFor(t, func() bool { return cm.State() == ConnConnected }, "never connected")

	cm.Send(CmdJoinRoom, JoinRoomCmd{RoomID: "r1"})
	waitFor(t, func() bool { return wire.writeCount() == 1 }, "frame never written")

	wire.mu.Lock()
	raw := wire.writes[0]
	wire.mu.Unlock()
	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, CmdJoinRoom, frame.Type)
	cm.Disconnect()
}

func TestBuildWSURLEmbedsToken(t *testing.T) {
	endpoint, err := buildWSURL("ws://localhost:8080/ws", "secret")
	require.NoError(t, err)
	assert.Contains(t, endpoint, "token=secret")

	_, err = buildWSURL("http://localhost:8080/ws", "secret")
	assert.Error(t, err, "only ws and wss schemes are dialable")
}
