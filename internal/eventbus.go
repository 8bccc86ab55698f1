package internal

import (
	"encoding/json"
	"sync"
)

// EventHandler receives the raw payload of a dispatched frame.
type EventHandler func(payload json.RawMessage)

// Subscription identifies one registered handler so it can be removed without
// comparing function values.
type Subscription struct {
	event string
	id    uint64
}

type registration struct {
	id      uint64
	handler EventHandler
}

// eventBus maps event types to ordered handler lists. Dispatch is synchronous
// fan-out in registration order.
type eventBus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[string][]registration)}
}

// Subscribe appends a handler for the event type and returns a handle for
// later removal. Multiple handlers per type are supported and all fire.
func (bus *eventBus) Subscribe(event string, handler EventHandler) Subscription {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextID++
	bus.handlers[event] = append(bus.handlers[event], registration{id: bus.nextID, handler: handler})
	return Subscription{event: event, id: bus.nextID}
}

// Unsubscribe removes the handler behind the subscription. Other handlers for
// the same event are unaffected. Unknown subscriptions are ignored.
func (bus *eventBus) Unsubscribe(sub Subscription) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	regs := bus.handlers[sub.event]
	for i, reg := range regs {
		if reg.id == sub.id {
			bus.handlers[sub.event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// emit invokes every handler registered for the event, in registration order,
// on the calling goroutine. Handlers registered mid-dispatch do not run until
// the next emit.
func (bus *eventBus) emit(event string, payload json.RawMessage) {
	bus.mu.Lock()
	regs := bus.handlers[event]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	bus.mu.Unlock()

	for _, reg := range snapshot {
		reg.handler(payload)
	}
}

// handlerCount reports how many handlers are registered for an event.
func (bus *eventBus) handlerCount(event string) int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return len(bus.handlers[event])
}
