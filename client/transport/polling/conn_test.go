package polling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edurace/realtime/client/transport"
	"github.com/edurace/realtime/client/wire"
	"github.com/edurace/realtime/devserver/hub"
	"github.com/edurace/realtime/devserver/server/gateway"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	gw       *gateway.Gateway
	hub      *hub.Hub
	endpoint string
	tr       *Transport
}

func newEnv(t *testing.T, pingInterval time.Duration) *env {
	t.Helper()
	logger := zerolog.Nop()
	h := hub.New(&logger)
	gw := gateway.New(gateway.Config{
		Logger:       &logger,
		Hub:          h,
		PingInterval: pingInterval,
		PingTimeout:  time.Second,
	})
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})
	return &env{
		gw:       gw,
		hub:      h,
		endpoint: strings.Replace(srv.URL, "http", "ws", 1),
		tr:       NewTransport(Config{Logger: &logger}),
	}
}

func (e *env) dial(t *testing.T) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := e.tr.Dial(ctx, e.endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func next(t *testing.T, conn transport.Conn) string {
	t.Helper()
	select {
	case msg, ok := <-conn.Messages():
		require.True(t, ok, "messages closed")
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return ""
	}
}

func TestTransport_ConnectAndEvents(t *testing.T) {
	e := newEnv(t, time.Minute)
	conn := e.dial(t)
	assert.Equal(t, "polling", conn.Name())

	require.NoError(t, conn.Write(context.Background(), []byte("0")))
	assert.True(t, strings.HasPrefix(next(t, conn), `0{"sid":`))

	require.NoError(t, conn.Write(context.Background(), []byte(`2["join-course",{"courseId":"c1","userId":"u1"}]`)))
	require.Eventually(t, func() bool { return len(e.hub.Rooms()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := e.hub.Emit("points-update", []byte(`{"pointsGained":3,"newTotal":9}`), hub.CourseRoom("c1"))
	require.NoError(t, err)
	_, err = e.hub.Emit("streak-update", []byte(`{"newStreak":1}`), "")
	require.NoError(t, err)

	assert.Equal(t, `2["points-update",{"pointsGained":3,"newTotal":9}]`, next(t, conn))
	assert.Equal(t, `2["streak-update",{"newStreak":1}]`, next(t, conn))
}

func TestTransport_Pong(t *testing.T) {
	e := newEnv(t, 20*time.Millisecond)
	conn := e.dial(t)

	select {
	case <-conn.Done():
		t.Fatalf("session ended: %v", conn.Err())
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 1, e.gw.Sessions())
}

func TestTransport_CloseNotifiesServer(t *testing.T) {
	e := newEnv(t, time.Minute)
	conn := e.dial(t)
	require.NoError(t, conn.Write(context.Background(), []byte("0")))
	next(t, conn)

	require.NoError(t, conn.Write(context.Background(), []byte(`2["user-activity",{"userId":"u1","activity":"x","timestamp":1}]`)))
	require.NoError(t, conn.Write(context.Background(), []byte("1")))
	require.NoError(t, conn.Close())
	<-conn.Done()

	assert.ErrorIs(t, conn.Err(), transport.ErrClosed)
	require.Eventually(t, func() bool { return e.gw.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, e.hub.History(), 1)
	assert.Equal(t, "user-activity", e.hub.History()[0].Event)
}

func TestTransport_ServerClose(t *testing.T) {
	e := newEnv(t, time.Minute)
	conn := e.dial(t)
	require.NoError(t, conn.Write(context.Background(), []byte("0")))
	next(t, conn)
	// let the next poll reach the server
	time.Sleep(50 * time.Millisecond)

	e.gw.Close()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed")
	}
	assert.Equal(t, wire.ReasonTransportClose, transport.Reason(conn.Err()))
}

func TestTransport_HandshakeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("EIO") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	tr := NewTransport(Config{Logger: &logger})
	_, err := tr.Dial(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrHandshake)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("4not-an-open-packet"))
	}))
	defer garbage.Close()
	_, err = tr.Dial(context.Background(), garbage.URL)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.ErrorIs(t, err, wire.ErrNotOpen)
}

func TestJoinPackets(t *testing.T) {
	b := joinPackets([][]byte{[]byte("42[\"a\"]"), []byte("3")})
	assert.Equal(t, "42[\"a\"]\x1e3", string(b))
}
