// Package _switch is the process-wide event bus. The realtime client
// broadcasts every inbound event here; UI-side consumers connect by event name
// and never touch the transport.
package _switch

import (
	"sync"

	"github.com/edurace/realtime/client/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Any connects a handler to every event.
const Any = ""

type (
	Handler func(model.Event)

	endpoint struct {
		id      string
		handler Handler
	}

	Switch struct {
		logger zerolog.Logger
		mx     *sync.RWMutex
		fwd    map[string][]endpoint
		names  map[string]string // endpoint id -> event name
	}
)

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string][]endpoint),
		names:  make(map[string]string),
	}
}

// Connect registers h for events called name and returns the endpoint id
// to pass to Disconnect.
func (sw *Switch) Connect(name string, h Handler) string {
	id := uuid.NewString()

	sw.mx.Lock()
	sw.fwd[name] = append(sw.fwd[name], endpoint{id: id, handler: h})
	sw.names[id] = name
	sw.mx.Unlock()

	sw.logger.Debug().
		Str("event", name).
		Str("endpoint", id).
		Msg("endpoint connected")
	return id
}

func (sw *Switch) Disconnect(id string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	name, ok := sw.names[id]
	if !ok {
		return
	}
	delete(sw.names, id)

	eps := sw.fwd[name]
	for i, ep := range eps {
		if ep.id == id {
			// copy so that in-flight broadcasts keep their snapshot intact
			next := make([]endpoint, 0, len(eps)-1)
			next = append(next, eps[:i]...)
			sw.fwd[name] = append(next, eps[i+1:]...)
			break
		}
	}
	if len(sw.fwd[name]) == 0 {
		delete(sw.fwd, name)
	}
	sw.logger.Debug().
		Str("event", name).
		Str("endpoint", id).
		Msg("endpoint disconnected")
}

// Broadcast delivers ev synchronously, in connect order, to the handlers of
// ev.Name and then to the wildcard handlers.
func (sw *Switch) Broadcast(ev model.Event) {
	sw.mx.RLock()
	named := sw.fwd[ev.Name]
	wildcard := sw.fwd[Any]
	sw.mx.RUnlock()

	if len(named)+len(wildcard) == 0 {
		sw.logger.Trace().Str("event", ev.Name).Msg("broadcast did not reach anyone")
		return
	}
	for _, ep := range named {
		sw.forward(ep, ev)
	}
	if ev.Name != Any {
		for _, ep := range wildcard {
			sw.forward(ep, ev)
		}
	}
}

func (sw *Switch) forward(ep endpoint, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			sw.logger.Error().
				Interface("panic", r).
				Str("event", ev.Name).
				Str("endpoint", ep.id).
				Msg("event handler panicked")
		}
	}()
	ep.handler(ev)
}
