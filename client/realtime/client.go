package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/notify"
	"github.com/edurace/realtime/client/transport"
	"github.com/edurace/realtime/client/wire"
	"github.com/rs/zerolog"
)

const (
	DefaultEndpoint = "ws://localhost:8080"

	defaultConnectTimeout = 20 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultInboxSize      = 64

	exhaustedMessage = "Connection lost. Please refresh the page."
)

var (
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrConnectRejected = errors.New("connect rejected by server")
)

type (
	// Metrics is implemented by telemetry.PromMetrics.
	Metrics interface {
		IncConnections()
		IncDisconnects()
		IncReconnectAttempts()
		IncInbound(event string)
		IncOutbound(event string)
		SetConnectionStatus(status float64)
	}

	Bus interface {
		Broadcast(model.Event)
	}

	Timer interface {
		Stop() bool
	}

	Config struct {
		Logger   *zerolog.Logger
		Endpoint string
		Dialer   transport.Dialer
		Bus      Bus
		Notifier notify.Notifier
		Metrics  Metrics
		Policy   ReconnectPolicy

		ConnectTimeout time.Duration
		WriteTimeout   time.Duration

		// ReconnectOnAnyDisconnect makes every disconnect not initiated by
		// the client reconnect. When false only a server initiated
		// disconnect does.
		ReconnectOnAnyDisconnect bool

		// AfterFunc schedules reconnect attempts and connect timeouts,
		// time.AfterFunc by default.
		AfterFunc func(time.Duration, func()) Timer
		Now       func() time.Time
	}

	// Status is a point-in-time view of the client.
	Status struct {
		State     string `json:"state"`
		Connected bool   `json:"connected"`
		Attempts  int    `json:"attempts"`
		Transport string `json:"transport,omitempty"`
	}

	// Client is the live realtime client. One loop goroutine owns the state
	// machine and the current session; everything else talks to it through
	// the inbox.
	Client struct {
		logger   zerolog.Logger
		endpoint string
		dialer   transport.Dialer
		bus      Bus
		notifier notify.Notifier
		metrics  Metrics

		connectTimeout time.Duration
		writeTimeout   time.Duration
		afterFunc      func(time.Duration, func()) Timer
		now            func() time.Time

		inbox     chan input
		inboxMx   sync.Mutex
		closed    bool
		stop      chan struct{}
		done      chan struct{}
		started   atomic.Bool
		startOnce sync.Once
		stopOnce  sync.Once

		// owned by the loop goroutine
		ctx          context.Context
		m            machine
		gen          uint64
		cur          *session
		timer        Timer
		connectTimer Timer
		cancelDial   context.CancelFunc

		mx     sync.RWMutex
		sess   *session
		status Status
	}

	session struct {
		gen       uint64
		conn      transport.Conn
		connected atomic.Bool
	}

	input struct {
		kind   inputKind
		gen    uint64
		reason string
		err    error
		conn   transport.Conn
		event  string
		data   json.RawMessage
	}
)

func New(cfg Config) *Client {
	c := &Client{
		logger:         cfg.Logger.With().Str("component", "realtime").Logger(),
		endpoint:       cfg.Endpoint,
		dialer:         cfg.Dialer,
		bus:            cfg.Bus,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		connectTimeout: cfg.ConnectTimeout,
		writeTimeout:   cfg.WriteTimeout,
		afterFunc:      cfg.AfterFunc,
		now:            cfg.Now,
		inbox:          make(chan input, defaultInboxSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		m:              newMachine(cfg.Policy, cfg.ReconnectOnAnyDisconnect),
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.notifier == nil {
		c.notifier = notify.Multi{}
	}
	if c.bus == nil {
		c.bus = nopBus{}
	}
	c.status = Status{State: StateIdle.String()}
	return c
}

// Start opens the first connection. It returns immediately; connection
// progress is reported through the bus. Calling Start twice, or after
// Disconnect, does nothing.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		select {
		case <-c.stop:
			return
		default:
		}
		c.ctx = ctx
		c.started.Store(true)
		go c.loop(ctx)
		c.post(input{kind: inputStart})
	})
}

// Disconnect closes the transport and cancels any pending reconnect.
// The attempt counter is left as is. The client cannot be started again.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		c.mx.Lock()
		s := c.sess
		c.sess = nil
		c.mx.Unlock()

		if s != nil {
			c.leave(s)
		}
		close(c.stop)
		if !c.started.Load() {
			close(c.done)
		}
	})
}

// Done is closed once the client loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) IsConnected() bool {
	c.mx.RLock()
	s := c.sess
	c.mx.RUnlock()
	return s != nil && s.connected.Load()
}

func (c *Client) Status() Status {
	c.mx.RLock()
	defer c.mx.RUnlock()
	st := c.status
	st.Connected = c.sess != nil && c.sess.connected.Load()
	if c.sess != nil {
		st.Transport = c.sess.conn.Name()
	}
	return st
}

func (c *Client) post(in input) {
	select {
	case c.inbox <- in:
	case <-c.done:
	}
}

func (c *Client) loop(ctx context.Context) {
	defer close(c.done)
	defer c.drain()

	for {
		// stop wins over queued inputs
		select {
		case <-c.stop:
			c.shutdown()
			return
		case <-ctx.Done():
			c.shutdown()
			return
		default:
		}

		select {
		case <-c.stop:
			c.shutdown()
			return
		case <-ctx.Done():
			c.shutdown()
			return
		case in := <-c.inbox:
			c.handle(in)
		}
	}
}

// handoff passes a freshly dialed transport to the loop. A transport
// nobody is left to own is closed right away.
func (c *Client) handoff(gen uint64, conn transport.Conn) {
	c.inboxMx.Lock()
	defer c.inboxMx.Unlock()
	if !c.closed {
		select {
		case c.inbox <- input{kind: inputDialed, gen: gen, conn: conn}:
			return
		case <-c.stop:
		case <-c.ctx.Done():
		}
	}
	_ = conn.Close()
}

// drain closes the inbox to late dials and releases transports that were
// queued but never attached.
func (c *Client) drain() {
	c.inboxMx.Lock()
	c.closed = true
	c.inboxMx.Unlock()

	for {
		select {
		case in := <-c.inbox:
			if in.kind == inputDialed {
				_ = in.conn.Close()
			}
		default:
			return
		}
	}
}

func (c *Client) shutdown() {
	c.apply(c.m.step(inputStop, wire.ReasonClientDisconnect))
	c.logger.Debug().Msg("client stopped")
}

func (c *Client) handle(in input) {
	switch in.kind {
	case inputStart, inputStop:
		c.apply(c.m.step(in.kind, in.reason))
		return

	case inputDialed:
		if in.gen != c.gen || c.m.state != StateConnecting {
			_ = in.conn.Close()
			return
		}
		c.attach(in.conn)
		return

	case inputEvent:
		if in.gen != c.gen || c.m.state != StateConnected {
			return
		}
		c.dispatch(in.event, in.data)
		return

	case inputClosed:
		if in.gen != c.gen {
			return
		}
		switch c.m.state {
		case StateConnecting:
			in.kind = inputConnectError
		case StateConnected:
			in.kind = inputDisconnected
		default:
			return
		}
	}

	if in.gen != c.gen {
		c.logger.Trace().Uint64("gen", in.gen).Msg("stale input dropped")
		return
	}

	switch in.kind {
	case inputConnectError:
		c.logger.Error().Err(in.err).Msg("WebSocket connection error")
	case inputDisconnected:
		c.logger.Info().Str("reason", in.reason).Msg("WebSocket disconnected")
	}
	c.apply(c.m.step(in.kind, in.reason))
}

func (c *Client) apply(acts []action) {
	for _, a := range acts {
		switch a.kind {
		case actDial:
			c.dial()

		case actSchedule:
			c.metrics.IncReconnectAttempts()
			gen := c.gen
			attempt := a.attempt
			c.logger.Info().
				Int("attempt", attempt).
				Int("max", c.m.policy.cfg.MaxAttempts).
				Dur("after", a.delay).
				Msg("reconnect scheduled")
			c.timer = c.afterFunc(a.delay, func() {
				c.logger.Info().
					Int("attempt", attempt).
					Int("max", c.m.policy.cfg.MaxAttempts).
					Msg("Attempting to reconnect...")
				c.post(input{kind: inputRetry, gen: gen})
			})

		case actCancelTimer:
			if c.timer != nil {
				c.timer.Stop()
				c.timer = nil
			}

		case actCloseSession:
			c.detach(a.reason)

		case actSignalConnected:
			c.stopConnectTimer()
			if c.cur != nil {
				c.cur.connected.Store(true)
			}
			c.metrics.IncConnections()
			c.metrics.SetConnectionStatus(1)
			c.logger.Info().Msg("WebSocket connected")
			c.publish(model.SignalConnected, nil)

		case actSignalDisconnected:
			c.metrics.IncDisconnects()
			c.metrics.SetConnectionStatus(0)
			c.publish(model.SignalDisconnected, model.Disconnected{Reason: a.reason})

		case actExhausted:
			c.logger.Error().Int("attempts", a.attempt).Msg("Max reconnection attempts reached")
			c.notifier.Notify(notify.Error(exhaustedMessage))
		}
	}
	c.setStatus()
}

func (c *Client) setStatus() {
	c.mx.Lock()
	c.status = Status{
		State:    c.m.state.String(),
		Attempts: c.m.policy.attempts,
	}
	c.mx.Unlock()
}

func (c *Client) dial() {
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelDial = cancel
	c.connectTimer = c.afterFunc(c.connectTimeout, func() {
		c.post(input{kind: inputConnectError, gen: gen, err: ErrConnectTimeout, reason: "timeout"})
	})

	go func() {
		conn, err := c.dialer.Dial(ctx, c.endpoint)
		if err != nil {
			c.post(input{kind: inputConnectError, gen: gen, err: err})
			return
		}
		c.handoff(gen, conn)
	}()
}

// attach makes conn the current session and asks to join the namespace.
// Each session gets its own reader, so listeners never outlive a transport.
func (c *Client) attach(conn transport.Conn) {
	s := &session{gen: c.gen, conn: conn}
	c.cur = s

	c.mx.Lock()
	c.sess = s
	c.mx.Unlock()

	go c.read(s)

	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, wire.ConnectPacket()); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send connect packet")
	}
	c.logger.Debug().Str("transport", conn.Name()).Msg("transport open, joining namespace")
}

func (c *Client) detach(reason string) {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.stopConnectTimer()

	s := c.cur
	c.cur = nil
	if s == nil {
		return
	}

	c.mx.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mx.Unlock()

	if reason == wire.ReasonClientDisconnect {
		c.leave(s)
		return
	}
	s.connected.Store(false)
	_ = s.conn.Close()
}

// leave tells the server we are going away, then closes the transport.
func (c *Client) leave(s *session) {
	if s.connected.Swap(false) {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		if err := s.conn.Write(ctx, wire.DisconnectPacket()); err != nil {
			c.logger.Debug().Err(err).Msg("failed to send disconnect packet")
		}
		cancel()
	}
	_ = s.conn.Close()
}

func (c *Client) stopConnectTimer() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

func (c *Client) read(s *session) {
	for msg := range s.conn.Messages() {
		sp, err := wire.DecodeSocketPacket(msg)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to decode socket packet")
			continue
		}
		switch sp.Type {
		case wire.SocketConnect:
			c.post(input{kind: inputConnected, gen: s.gen})
		case wire.SocketDisconnect:
			c.post(input{kind: inputDisconnected, gen: s.gen, reason: wire.ReasonServerDisconnect})
		case wire.SocketConnectError:
			c.post(input{
				kind: inputConnectError,
				gen:  s.gen,
				err:  fmt.Errorf("%w: %s", ErrConnectRejected, sp.ConnectErrorMessage()),
			})
		case wire.SocketEvent:
			c.post(input{kind: inputEvent, gen: s.gen, event: sp.Event, data: sp.Data})
		}
	}
	err := s.conn.Err()
	c.post(input{kind: inputClosed, gen: s.gen, reason: transport.Reason(err), err: err})
}

func (c *Client) publish(name string, payload any) {
	c.bus.Broadcast(model.Event{
		Name:       name,
		Payload:    payload,
		ReceivedAt: c.now(),
	})
}

type nopMetrics struct{}

func (nopMetrics) IncConnections()             {}
func (nopMetrics) IncDisconnects()             {}
func (nopMetrics) IncReconnectAttempts()       {}
func (nopMetrics) IncInbound(string)           {}
func (nopMetrics) IncOutbound(string)          {}
func (nopMetrics) SetConnectionStatus(float64) {}

type nopBus struct{}

func (nopBus) Broadcast(model.Event) {}
