// Package hub tracks connected sockets and their rooms for the dev gateway.
package hub

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/wire"
	"github.com/rs/zerolog"
)

const (
	LeaderboardRoom = "leaderboard"

	defaultHistorySize = 1000
)

var ErrRoomNotFound = errors.New("room is not found")

type (
	// Peer is one connected socket.
	Peer interface {
		ID() string
		// Send queues a Socket.IO packet, false means the peer is gone or slow.
		Send(msg []byte) bool
	}

	// Received is an event a client sent, kept for inspection.
	Received struct {
		SID        string          `json:"sid"`
		Event      string          `json:"event"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		ReceivedAt time.Time       `json:"received_at"`
	}

	Hub struct {
		logger  zerolog.Logger
		mx      *sync.Mutex
		peers   map[string]Peer
		rooms   map[string]*model.Room
		history []Received
	}
)

func CourseRoom(courseID string) string {
	return "course:" + courseID
}

func New(logger *zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "hub").Logger(),
		mx:     &sync.Mutex{},
		peers:  make(map[string]Peer),
		rooms:  make(map[string]*model.Room),
	}
}

func (h *Hub) Register(p Peer) {
	h.mx.Lock()
	h.peers[p.ID()] = p
	h.mx.Unlock()

	h.logger.Debug().Str("sid", p.ID()).Msg("peer registered")
}

// Unregister removes the peer from every room.
func (h *Hub) Unregister(sid string) {
	h.mx.Lock()
	defer h.mx.Unlock()

	if _, ok := h.peers[sid]; !ok {
		return
	}
	delete(h.peers, sid)
	for id, room := range h.rooms {
		delete(room.Participants, sid)
		if len(room.Participants) == 0 {
			delete(h.rooms, id)
		}
	}
	h.logger.Debug().Str("sid", sid).Msg("peer unregistered")
}

func (h *Hub) Join(roomID, sid, userID string) {
	h.mx.Lock()
	defer h.mx.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		room = &model.Room{
			ID:           roomID,
			Participants: make(map[string]model.Participant),
		}
		h.rooms[roomID] = room
	}
	room.Participants[sid] = model.Participant{ID: sid, UserID: userID}
}

func (h *Hub) Leave(roomID, sid string) {
	h.mx.Lock()
	defer h.mx.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room.Participants, sid)
	if len(room.Participants) == 0 {
		delete(h.rooms, roomID)
	}
}

// Record keeps an event sent by a client. Only the newest events are kept.
func (h *Hub) Record(ev Received) {
	h.mx.Lock()
	defer h.mx.Unlock()

	h.history = append(h.history, ev)
	if len(h.history) > defaultHistorySize {
		h.history = h.history[len(h.history)-defaultHistorySize:]
	}
}

func (h *Hub) History() []Received {
	h.mx.Lock()
	defer h.mx.Unlock()

	out := make([]Received, len(h.history))
	copy(out, h.history)
	return out
}

// Emit sends a server event to every peer in roomID, or to every peer when
// roomID is empty. It returns how many peers accepted it.
func (h *Hub) Emit(event string, payload json.RawMessage, roomID string) (int, error) {
	var data any
	if len(payload) > 0 {
		data = payload
	}
	msg, err := wire.EncodeEvent(event, data)
	if err != nil {
		return 0, err
	}

	targets, err := h.targets(roomID)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, p := range targets {
		if p.Send(msg) {
			sent++
		}
	}
	h.logger.Debug().
		Str("event", event).
		Str("room", roomID).
		Int("peers", sent).
		Msg("event emitted")
	return sent, nil
}

// Kick sends a server disconnect to every peer and forgets them.
func (h *Hub) Kick() int {
	h.mx.Lock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.peers = make(map[string]Peer)
	h.rooms = make(map[string]*model.Room)
	h.mx.Unlock()

	for _, p := range peers {
		p.Send(wire.DisconnectPacket())
	}
	h.logger.Info().Int("peers", len(peers)).Msg("peers kicked")
	return len(peers)
}

func (h *Hub) targets(roomID string) ([]Peer, error) {
	h.mx.Lock()
	defer h.mx.Unlock()

	var out []Peer
	if roomID == "" {
		for _, p := range h.peers {
			out = append(out, p)
		}
		return out, nil
	}
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	for sid := range room.Participants {
		if p, ok := h.peers[sid]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (h *Hub) Peers() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return len(h.peers)
}

// Rooms returns a copy of every room, sorted by id.
func (h *Hub) Rooms() []model.Room {
	h.mx.Lock()
	defer h.mx.Unlock()

	out := make([]model.Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		cp := model.Room{ID: room.ID, Participants: make(map[string]model.Participant, len(room.Participants))}
		for k, v := range room.Participants {
			cp.Participants[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
