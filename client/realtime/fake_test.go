package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/notify"
	"github.com/edurace/realtime/client/transport"
	"github.com/rs/zerolog"
)

var errRefused = errors.New("connection refused")

type fakeConn struct {
	mx      sync.Mutex
	msgs    chan []byte
	done    chan struct{}
	writes  [][]byte
	err     error
	closed  bool
	autoAck bool
}

func newFakeConn(autoAck bool) *fakeConn {
	return &fakeConn{
		msgs:    make(chan []byte, 32),
		done:    make(chan struct{}),
		autoAck: autoAck,
	}
}

func (f *fakeConn) Write(_ context.Context, msg []byte) error {
	f.mx.Lock()
	if f.closed {
		f.mx.Unlock()
		return transport.ErrClosed
	}
	f.writes = append(f.writes, append([]byte(nil), msg...))
	f.mx.Unlock()

	if f.autoAck && string(msg) == "0" {
		f.push(`0{"sid":"test-sid"}`)
	}
	return nil
}

func (f *fakeConn) push(msg string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.closed {
		return
	}
	f.msgs <- []byte(msg)
}

// drop ends the session as if the peer went away.
func (f *fakeConn) drop(err error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.msgs)
	close(f.done)
}

func (f *fakeConn) Messages() <-chan []byte { return f.msgs }
func (f *fakeConn) Done() <-chan struct{}   { return f.done }
func (f *fakeConn) Name() string            { return "fake" }

func (f *fakeConn) Err() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.err
}

func (f *fakeConn) Close() error {
	f.drop(transport.ErrClosed)
	return nil
}

func (f *fakeConn) Writes() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	out := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		out = append(out, string(w))
	}
	return out
}

func (f *fakeConn) IsClosed() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.closed
}

// fakeDialer hands out connections according to plan, which gets the
// 1-based dial number.
type fakeDialer struct {
	mx    sync.Mutex
	dials int
	conns []*fakeConn
	plan  func(n int) (*fakeConn, error)
}

func (d *fakeDialer) Name() string { return "fake" }

func (d *fakeDialer) Dial(context.Context, string) (transport.Conn, error) {
	d.mx.Lock()
	d.dials++
	n := d.dials
	d.mx.Unlock()

	conn, err := d.plan(n)
	if err != nil {
		return nil, err
	}
	d.mx.Lock()
	d.conns = append(d.conns, conn)
	d.mx.Unlock()
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mx.Lock()
	defer d.mx.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func alwaysFail(int) (*fakeConn, error) { return nil, errRefused }

func alwaysConnect(int) (*fakeConn, error) { return newFakeConn(true), nil }

type fakeTimer struct {
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// fakeClock records scheduled reconnects; tests fire them by hand.
// Timers armed for connectTimeout are connect timeouts and are kept apart.
type fakeClock struct {
	mx             sync.Mutex
	connectTimeout time.Duration
	delays         []time.Duration
	fns            []func()
	timers         []*fakeTimer
	connectFns     []func()
	connectTimers  []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{}
	c.mx.Lock()
	defer c.mx.Unlock()
	if d == c.connectTimeout {
		c.connectFns = append(c.connectFns, fn)
		c.connectTimers = append(c.connectTimers, t)
		return t
	}
	c.delays = append(c.delays, d)
	c.fns = append(c.fns, fn)
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Connects() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.connectFns)
}

func (c *fakeClock) FireConnect(i int) {
	c.mx.Lock()
	fn := c.connectFns[i]
	c.mx.Unlock()
	fn()
}

func (c *fakeClock) ConnectTimer(i int) *fakeTimer {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.connectTimers[i]
}

func (c *fakeClock) Delays() []time.Duration {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *fakeClock) Scheduled() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.delays)
}

func (c *fakeClock) Fire(i int) {
	c.mx.Lock()
	fn := c.fns[i]
	c.mx.Unlock()
	fn()
}

func (c *fakeClock) Timer(i int) *fakeTimer {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.timers[i]
}

type recordingBus struct {
	mx     sync.Mutex
	events []model.Event
}

func (b *recordingBus) Broadcast(ev model.Event) {
	b.mx.Lock()
	b.events = append(b.events, ev)
	b.mx.Unlock()
}

func (b *recordingBus) Named(name string) []model.Event {
	b.mx.Lock()
	defer b.mx.Unlock()
	var out []model.Event
	for _, ev := range b.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	client *Client
	dialer *fakeDialer
	clock  *fakeClock
	bus    *recordingBus
	toasts *notify.Recorder
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, plan func(int) (*fakeConn, error)) *harness {
	t.Helper()

	logger := zerolog.Nop()
	h := &harness{
		dialer: &fakeDialer{plan: plan},
		clock:  &fakeClock{connectTimeout: 20 * time.Second},
		bus:    &recordingBus{},
		toasts: notify.NewRecorder(),
	}
	h.client = New(Config{
		Logger:                   &logger,
		Endpoint:                 "ws://realtime.test",
		Dialer:                   h.dialer,
		Bus:                      h.bus,
		Notifier:                 h.toasts,
		Policy:                   DefaultReconnectPolicy(),
		ReconnectOnAnyDisconnect: true,
		AfterFunc:                h.clock.AfterFunc,
		Now:                      func() time.Time { return testNow },
	})
	t.Cleanup(h.client.Disconnect)
	return h
}
