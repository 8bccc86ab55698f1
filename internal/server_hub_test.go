package internal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newHubTestClient(buffer int) *wsClient {
	return &wsClient{
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// drain consumes a client's send queue and counts the frames it receives.
func drain(client *wsClient, received *atomic.Int64) {
	for {
		select {
		case <-client.send:
			received.Add(1)
		case <-client.done:
			return
		}
	}
}

func TestConcurrentBroadcastsSurviveSlowClientDrop(t *testing.T) {
	hub := NewHub(NewMetrics())
	t.Cleanup(hub.Close)

	var received atomic.Int64
	healthy := newHubTestClient(1024)
	go drain(healthy, &received)
	t.Cleanup(healthy.shutdown)
	hub.register(healthy)
	hub.joinRoom(healthy, "r1")

	// Zero-buffer clients with no reader: every delivery attempt drops them,
	// while other broadcasters may still hold them in a member snapshot.
	for i := 0; i < 8; i++ {
		slow := newHubTestClient(0)
		hub.register(slow)
		hub.joinRoom(slow, "r1")
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hub.BroadcastRoom("r1", EventRoomUpdate, Room{ID: "r1", Name: "general"})
			}
		}()
	}
	wg.Wait()

	hub.mu.RLock()
	remaining := len(hub.clients)
	hub.mu.RUnlock()
	if remaining != 1 {
		t.Fatalf("clients after broadcast storm = %d, want only the healthy one", remaining)
	}
	if received.Load() == 0 {
		t.Fatal("healthy client received nothing")
	}
}

func TestUnregisterIsIdempotentAndSignalsShutdown(t *testing.T) {
	hub := NewHub(NewMetrics())
	t.Cleanup(hub.Close)

	client := newHubTestClient(0)
	hub.register(client)
	hub.joinRoom(client, "r1")

	hub.unregister(client)
	hub.unregister(client)

	select {
	case <-client.done:
	case <-time.After(time.Second):
		t.Fatal("done not closed by unregister")
	}

	// A broadcaster still holding this client in a snapshot must be able to
	// attempt delivery without panicking.
	hub.deliver(client, []byte(`{"type":"room_update"}`))
}
