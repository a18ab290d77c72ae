package realtime

import (
	"time"

	"github.com/edurace/realtime/client/wire"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	// StateFailed is terminal: reconnect attempts are exhausted and only
	// a new client can recover.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type inputKind int

const (
	inputStart inputKind = iota
	inputConnected
	inputDisconnected
	inputConnectError
	inputRetry
	inputStop

	// handled by the loop, never reach step
	inputDialed
	inputClosed
	inputEvent
)

type actionKind int

const (
	actDial actionKind = iota
	actSchedule
	actCancelTimer
	actCloseSession
	actSignalConnected
	actSignalDisconnected
	actExhausted
)

type action struct {
	kind    actionKind
	delay   time.Duration
	attempt int
	reason  string
}

type machine struct {
	state        State
	policy       *policy
	reconnectAny bool
}

func newMachine(p ReconnectPolicy, reconnectAny bool) machine {
	return machine{
		state:        StateIdle,
		policy:       newPolicy(p),
		reconnectAny: reconnectAny,
	}
}

// step is the single transition function of the client. It mutates the
// machine and returns the side effects the loop has to perform, in order.
func (m *machine) step(in inputKind, reason string) []action {
	switch in {
	case inputStart:
		if m.state != StateIdle {
			return nil
		}
		m.state = StateConnecting
		return []action{{kind: actDial}}

	case inputConnected:
		if m.state != StateConnecting {
			return nil
		}
		m.state = StateConnected
		m.policy.reset()
		return []action{{kind: actSignalConnected}}

	case inputDisconnected:
		if m.state != StateConnected {
			return nil
		}
		acts := []action{
			{kind: actCloseSession, reason: reason},
			{kind: actSignalDisconnected, reason: reason},
		}
		if !m.shouldReconnect(reason) {
			m.state = StateIdle
			return acts
		}
		return append(acts, m.reconnect()...)

	case inputConnectError:
		if m.state != StateConnecting {
			return nil
		}
		return append([]action{{kind: actCloseSession, reason: reason}}, m.reconnect()...)

	case inputRetry:
		if m.state != StateBackoff {
			return nil
		}
		m.state = StateConnecting
		return []action{{kind: actDial}}

	case inputStop:
		prev := m.state
		m.state = StateIdle
		acts := []action{
			{kind: actCancelTimer},
			{kind: actCloseSession, reason: wire.ReasonClientDisconnect},
		}
		if prev == StateConnected {
			acts = append(acts, action{kind: actSignalDisconnected, reason: wire.ReasonClientDisconnect})
		}
		return acts
	}
	return nil
}

func (m *machine) shouldReconnect(reason string) bool {
	switch reason {
	case wire.ReasonClientDisconnect:
		return false
	case wire.ReasonServerDisconnect:
		return true
	default:
		return m.reconnectAny
	}
}

func (m *machine) reconnect() []action {
	attempt, delay, ok := m.policy.next()
	if !ok {
		m.state = StateFailed
		return []action{{kind: actExhausted, attempt: attempt}}
	}
	m.state = StateBackoff
	return []action{{kind: actSchedule, delay: delay, attempt: attempt}}
}
