package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edurace/realtime/devserver/hub"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peer struct {
	id   string
	sent [][]byte
}

func (p *peer) ID() string { return p.id }

func (p *peer) Send(msg []byte) bool {
	p.sent = append(p.sent, msg)
	return true
}

func newTestServer(t *testing.T) (*Server, *hub.Hub, *int) {
	t.Helper()
	logger := zerolog.Nop()
	h := hub.New(&logger)

	gatewayHits := 0
	gw := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		gatewayHits++
		w.WriteHeader(http.StatusOK)
	})
	return NewServer(Config{
		Logger:     &logger,
		Hub:        h,
		Gateway:    gw,
		ListenAddr: ":0",
	}), h, &gatewayHits
}

func do(t *testing.T, srv *Server, method, path, body string) (int, GenericResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestServer_Emit(t *testing.T) {
	srv, h, _ := newTestServer(t)
	p := &peer{id: "s1"}
	h.Register(p)
	h.Join(hub.CourseRoom("c1"), "s1", "u1")

	code, resp := do(t, srv, http.MethodPost, "/api/emit",
		`{"event":"points-update","payload":{"pointsGained":5,"newTotal":10},"room":"course:c1"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"delivered": float64(1)}, resp.Data)
	require.Len(t, p.sent, 1)
	assert.Equal(t, `2["points-update",{"pointsGained":5,"newTotal":10}]`, string(p.sent[0]))

	code, resp = do(t, srv, http.MethodPost, "/api/emit", `{"event":"notification","room":"course:nope"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, hub.ErrRoomNotFound.Error(), resp.Error)

	code, resp = do(t, srv, http.MethodPost, "/api/emit", `{"payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrNoEvent.Error(), resp.Error)

	code, _ = do(t, srv, http.MethodPost, "/api/emit", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_KickRoomsEvents(t *testing.T) {
	srv, h, _ := newTestServer(t)
	p := &peer{id: "s1"}
	h.Register(p)
	h.Join(hub.LeaderboardRoom, "s1", "u1")
	h.Record(hub.Received{SID: "s1", Event: "heartbeat", ReceivedAt: time.Now()})

	code, resp := do(t, srv, http.MethodGet, "/api/rooms", "")
	assert.Equal(t, http.StatusOK, code)
	rooms, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, rooms, 1)

	code, resp = do(t, srv, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusOK, code)
	events, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, events, 1)

	code, resp = do(t, srv, http.MethodPost, "/api/kick", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"kicked": float64(1)}, resp.Data)
	assert.Equal(t, []byte("1"), p.sent[0])
	assert.Zero(t, h.Peers())
}

func TestServer_GatewayMounted(t *testing.T) {
	srv, _, hits := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/socket.io/?EIO=4&transport=polling", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *hits)
}

func TestServer_CORS(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/emit", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
