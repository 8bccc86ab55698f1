package internal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDispatchOrder(t *testing.T) {
	bus := newEventBus()

	var order []int
	bus.Subscribe("new_message", func(json.RawMessage) { order = append(order, 1) })
	bus.Subscribe("new_message", func(json.RawMessage) { order = append(order, 2) })
	bus.Subscribe("new_message", func(json.RawMessage) { order = append(order, 3) })

	bus.emit("new_message", nil)

	assert.Equal(t, []int{1, 2, 3}, order, "handlers fire in registration order")
}

func TestEventBusUnsubscribeRemovesOnlyTarget(t *testing.T) {
	bus := newEventBus()

	var fired []string
	// same function body registered three times; removal must go by id, not
	// by function identity
	handler := func(tag string) EventHandler {
		return func(json.RawMessage) { fired = append(fired, tag) }
	}
	first := bus.Subscribe("typing_update", handler("first"))
	second := bus.Subscribe("typing_update", handler("second"))
	third := bus.Subscribe("typing_update", handler("third"))

	bus.Unsubscribe(second)
	bus.emit("typing_update", nil)

	assert.Equal(t, []string{"first", "third"}, fired)
	require.Equal(t, 2, bus.handlerCount("typing_update"))

	bus.Unsubscribe(first)
	bus.Unsubscribe(third)
	assert.Zero(t, bus.handlerCount("typing_update"))
}

func TestEventBusUnknownSubscriptionIgnored(t *testing.T) {
	bus := newEventBus()
	bus.Subscribe("room_update", func(json.RawMessage) {})

	bus.Unsubscribe(Subscription{event: "room_update", id: 999})
	bus.Unsubscribe(Subscription{event: "never_seen", id: 1})

	assert.Equal(t, 1, bus.handlerCount("room_update"))
}

func TestEventBusEmitWithoutHandlers(t *testing.T) {
	bus := newEventBus()
	assert.NotPanics(t, func() { bus.emit("new_message", json.RawMessage(`{}`)) })
}

func TestEventBusPayloadDelivered(t *testing.T) {
	bus := newEventBus()

	var got json.RawMessage
	bus.Subscribe("connection", func(payload json.RawMessage) { got = payload })

	want := json.RawMessage(`{"status":"connected"}`)
	bus.emit("connection", want)

	assert.JSONEq(t, string(want), string(got))
}
