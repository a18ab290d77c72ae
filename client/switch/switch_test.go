package _switch

import (
	"testing"

	"github.com/edurace/realtime/client/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestSwitch() *Switch {
	logger := zerolog.Nop()
	return NewSwitch(&logger)
}

func TestSwitch_BroadcastInOrder(t *testing.T) {
	sw := newTestSwitch()

	var got []string
	sw.Connect(model.EventPointsUpdate, func(ev model.Event) {
		got = append(got, "first:"+ev.Payload.(string))
	})
	sw.Connect(model.EventPointsUpdate, func(ev model.Event) {
		got = append(got, "second:"+ev.Payload.(string))
	})
	sw.Connect(Any, func(ev model.Event) {
		got = append(got, "any:"+ev.Name)
	})
	sw.Connect(model.EventBadgeUnlocked, func(ev model.Event) {
		got = append(got, "badge")
	})

	sw.Broadcast(model.Event{Name: model.EventPointsUpdate, Payload: "a"})
	sw.Broadcast(model.Event{Name: model.EventPointsUpdate, Payload: "b"})

	assert.Equal(t, []string{
		"first:a", "second:a", "any:points-update",
		"first:b", "second:b", "any:points-update",
	}, got)
}

func TestSwitch_Disconnect(t *testing.T) {
	sw := newTestSwitch()

	calls := 0
	id := sw.Connect(model.SignalConnected, func(model.Event) { calls++ })
	sw.Broadcast(model.Event{Name: model.SignalConnected})
	sw.Disconnect(id)
	sw.Disconnect(id)
	sw.Broadcast(model.Event{Name: model.SignalConnected})

	assert.Equal(t, 1, calls)
	assert.Empty(t, sw.fwd)
}

func TestSwitch_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	sw := newTestSwitch()

	delivered := false
	sw.Connect(model.EventNotification, func(model.Event) { panic("boom") })
	sw.Connect(model.EventNotification, func(model.Event) { delivered = true })

	assert.NotPanics(t, func() {
		sw.Broadcast(model.Event{Name: model.EventNotification})
	})
	assert.True(t, delivered)
}
