package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	id   string
	mx   sync.Mutex
	msgs []string
	full bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(msg []byte) bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, string(msg))
	return true
}

func (p *fakePeer) Msgs() []string {
	p.mx.Lock()
	defer p.mx.Unlock()
	return append([]string(nil), p.msgs...)
}

func newTestHub() *Hub {
	logger := zerolog.Nop()
	return New(&logger)
}

func TestHub_EmitToRoom(t *testing.T) {
	h := newTestHub()
	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b"}
	h.Register(a)
	h.Register(b)
	h.Join(CourseRoom("c1"), "a", "u1")

	n, err := h.Emit("points-update", json.RawMessage(`{"pointsGained":5,"newTotal":10}`), CourseRoom("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{`2["points-update",{"pointsGained":5,"newTotal":10}]`}, a.Msgs())
	assert.Empty(t, b.Msgs())

	_, err = h.Emit("points-update", nil, CourseRoom("missing"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestHub_EmitToAll(t *testing.T) {
	h := newTestHub()
	a, b := &fakePeer{id: "a"}, &fakePeer{id: "b", full: true}
	h.Register(a)
	h.Register(b)

	n, err := h.Emit("notification", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{`2["notification"]`}, a.Msgs())
}

func TestHub_Rooms(t *testing.T) {
	h := newTestHub()
	h.Register(&fakePeer{id: "a"})
	h.Register(&fakePeer{id: "b"})
	h.Join(LeaderboardRoom, "a", "u1")
	h.Join(CourseRoom("c1"), "a", "u1")
	h.Join(CourseRoom("c1"), "b", "u2")

	rooms := h.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "course:c1", rooms[0].ID)
	assert.Len(t, rooms[0].Participants, 2)
	assert.Equal(t, "u2", rooms[0].Participants["b"].UserID)

	h.Leave(LeaderboardRoom, "a")
	h.Unregister("b")
	rooms = h.Rooms()
	require.Len(t, rooms, 1)
	assert.Len(t, rooms[0].Participants, 1)

	h.Unregister("a")
	assert.Empty(t, h.Rooms())
	assert.Zero(t, h.Peers())
}

func TestHub_Kick(t *testing.T) {
	h := newTestHub()
	a := &fakePeer{id: "a"}
	h.Register(a)
	h.Join(LeaderboardRoom, "a", "u1")

	assert.Equal(t, 1, h.Kick())
	assert.Equal(t, []string{"1"}, a.Msgs())
	assert.Zero(t, h.Peers())
	assert.Empty(t, h.Rooms())
}

func TestHub_History(t *testing.T) {
	h := newTestHub()
	for i := 0; i < defaultHistorySize+5; i++ {
		h.Record(Received{Event: "heartbeat"})
	}
	assert.Len(t, h.History(), defaultHistorySize)
}
