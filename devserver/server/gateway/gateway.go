// Package gateway is a small Engine.IO v4 / Socket.IO v5 server used to
// drive the realtime client locally. It speaks both the websocket and the
// long-polling transport and keeps rooms through the hub.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/wire"
	"github.com/edurace/realtime/devserver/hub"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
	defaultMaxPayload   = 1000000
	defaultQueueSize    = 64

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second
)

var (
	ErrUnknownSession = errors.New("session id unknown")
	ErrBadHandshake   = errors.New("bad handshake method")
	ErrBadRequest     = errors.New("bad request")
)

type (
	Hub interface {
		Register(p hub.Peer)
		Unregister(sid string)
		Join(roomID, sid, userID string)
		Leave(roomID, sid string)
		Record(ev hub.Received)
	}

	Config struct {
		Logger       *zerolog.Logger
		Hub          Hub
		PingInterval time.Duration
		PingTimeout  time.Duration
	}

	Gateway struct {
		logger       zerolog.Logger
		hub          Hub
		ws           *websocket.Upgrader
		pingInterval time.Duration
		pingTimeout  time.Duration

		mx       *sync.Mutex
		sessions map[string]*session
	}

	session struct {
		sid       string
		transport string
		out       chan wire.Packet
		done      chan struct{}
		once      sync.Once
		connected atomic.Bool
		lastSeen  atomic.Int64
		pollMx    sync.Mutex
	}
)

func New(cfg Config) *Gateway {
	g := &Gateway{
		logger:       cfg.Logger.With().Str("component", "gateway").Logger(),
		hub:          cfg.Hub,
		pingInterval: cfg.PingInterval,
		pingTimeout:  cfg.PingTimeout,
		mx:           &sync.Mutex{},
		sessions:     make(map[string]*session),
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	if g.pingInterval <= 0 {
		g.pingInterval = defaultPingInterval
	}
	if g.pingTimeout <= 0 {
		g.pingTimeout = defaultPingTimeout
	}
	return g
}

func newSession(transport string) *session {
	s := &session{
		sid:       uuid.NewString(),
		transport: transport,
		out:       make(chan wire.Packet, defaultQueueSize),
		done:      make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *session) ID() string {
	return s.sid
}

func (s *session) Send(msg []byte) bool {
	return s.push(wire.Packet{Type: wire.PacketMessage, Data: msg})
}

func (s *session) push(p wire.Packet) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- p:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastSeen.Load()))
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != wire.Protocol {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		return
	}
	switch q.Get("transport") {
	case wire.TransportWebsocket:
		if q.Get("sid") != "" {
			// upgrades from polling are not offered
			writeError(w, http.StatusBadRequest, ErrBadRequest)
			return
		}
		g.serveWebsocket(w, r)
	case wire.TransportPolling:
		g.servePolling(w, r, q.Get("sid"))
	default:
		writeError(w, http.StatusBadRequest, ErrBadRequest)
	}
}

// Close ends every session.
func (g *Gateway) Close() {
	g.mx.Lock()
	sessions := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mx.Unlock()

	for _, s := range sessions {
		g.endSession(s)
	}
}

func (g *Gateway) Sessions() int {
	g.mx.Lock()
	defer g.mx.Unlock()
	return len(g.sessions)
}

func (g *Gateway) addSession(s *session) {
	g.mx.Lock()
	g.sessions[s.sid] = s
	g.mx.Unlock()

	g.logger.Debug().Str("sid", s.sid).Str("transport", s.transport).Msg("session opened")
}

func (g *Gateway) getSession(sid string) *session {
	g.mx.Lock()
	defer g.mx.Unlock()
	return g.sessions[sid]
}

func (g *Gateway) endSession(s *session) {
	s.close()
	g.hub.Unregister(s.sid)

	g.mx.Lock()
	_, ok := g.sessions[s.sid]
	delete(g.sessions, s.sid)
	g.mx.Unlock()

	if ok {
		g.logger.Debug().Str("sid", s.sid).Msg("session closed")
	}
}

func (g *Gateway) openPacket(s *session) []byte {
	p, _ := wire.EncodeHandshake(wire.Handshake{
		SID:          s.sid,
		Upgrades:     []string{},
		PingInterval: int(g.pingInterval / time.Millisecond),
		PingTimeout:  int(g.pingTimeout / time.Millisecond),
		MaxPayload:   defaultMaxPayload,
	})
	return wire.EncodePacket(p)
}

// onPacket handles one Engine.IO packet from the client and reports whether
// the session goes on.
func (g *Gateway) onPacket(s *session, p wire.Packet) bool {
	s.touch()
	switch p.Type {
	case wire.PacketPong:
		g.logger.Trace().Str("sid", s.sid).Msg("got pong")
	case wire.PacketPing:
		s.push(wire.Packet{Type: wire.PacketPong, Data: p.Data})
	case wire.PacketMessage:
		g.onMessage(s, p.Data)
	case wire.PacketClose:
		return false
	default:
		g.logger.Trace().Str("sid", s.sid).Str("type", string(p.Type)).Msg("packet ignored")
	}
	return true
}

func (g *Gateway) onMessage(s *session, data []byte) {
	sp, err := wire.DecodeSocketPacket(data)
	if err != nil {
		g.logger.Error().Err(err).Str("sid", s.sid).Msg("failed to decode socket packet")
		return
	}

	switch sp.Type {
	case wire.SocketConnect:
		if s.connected.Swap(true) {
			return
		}
		ack, _ := wire.ConnectAck(uuid.NewString())
		s.Send(ack)
		g.hub.Register(s)
	case wire.SocketDisconnect:
		s.connected.Store(false)
		g.hub.Unregister(s.sid)
	case wire.SocketEvent:
		if !s.connected.Load() {
			g.logger.Warn().Str("sid", s.sid).Str("event", sp.Event).Msg("event before namespace connect")
			return
		}
		g.onEvent(s, sp.Event, sp.Data)
	}
}

func (g *Gateway) onEvent(s *session, event string, data json.RawMessage) {
	g.hub.Record(hub.Received{
		SID:        s.sid,
		Event:      event,
		Payload:    data,
		ReceivedAt: time.Now(),
	})

	logEvent := g.logger.Info().Str("sid", s.sid).Str("event", event)
	if len(data) > 0 {
		logEvent = logEvent.RawJSON("payload", data)
	}
	logEvent.Msg("client event")

	switch event {
	case model.EventJoinCourse, model.EventLeaveCourse:
		var req model.CourseRoom
		if err := json.Unmarshal(data, &req); err != nil || req.CourseID == "" {
			g.logger.Warn().Str("sid", s.sid).Str("event", event).Msg("bad course room request")
			return
		}
		if event == model.EventJoinCourse {
			g.hub.Join(hub.CourseRoom(req.CourseID), s.sid, req.UserID)
		} else {
			g.hub.Leave(hub.CourseRoom(req.CourseID), s.sid)
		}
	case model.EventJoinLeaderboard:
		var req model.LeaderboardRoom
		_ = json.Unmarshal(data, &req)
		g.hub.Join(hub.LeaderboardRoom, s.sid, req.UserID)
	case model.EventLeaveLeaderboard:
		g.hub.Leave(hub.LeaderboardRoom, s.sid)
	}
}

func (g *Gateway) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.ws.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSession(wire.TransportWebsocket)
	if err = conn.WriteMessage(websocket.TextMessage, g.openPacket(s)); err != nil {
		g.logger.Error().Err(err).Msg("failed to send open packet")
		webSocketCloser(conn, &g.logger)
		return
	}
	g.addSession(s)

	go g.handleWSConn(conn, s)
}

func (g *Gateway) handleWSConn(conn *websocket.Conn, s *session) {
	logger := g.logger.With().Str("sid", s.sid).Logger()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		g.webSocketReceiver(wg, conn, s, &logger)
		s.close()
	}()

	g.webSocketSender(conn, s, &logger)
	s.close()

	webSocketCloser(conn, &logger)
	wg.Wait()
	g.endSession(s)
}

func (g *Gateway) webSocketSender(conn *websocket.Conn, s *session, logger *zerolog.Logger) {
	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	write := func(p wire.Packet) error {
		if err := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, wire.EncodePacket(p))
	}

	for {
		select {
		case <-s.done:
			return
		case <-pingTicker.C:
			if err := write(wire.Packet{Type: wire.PacketPing}); err != nil {
				logger.Error().Err(err).Msg("failed to send ping")
				return
			}
			logger.Trace().Msg("ping sent")
		case p := <-s.out:
			if err := write(p); err != nil {
				logger.Error().Err(err).Msg("failed to write outgoing packet")
				return
			}
		}
	}
}

func (g *Gateway) webSocketReceiver(wg *sync.WaitGroup, conn *websocket.Conn, s *session, logger *zerolog.Logger) {
	defer wg.Done()

	conn.SetReadLimit(defaultMaxPayload)
	deadline := g.pingInterval + g.pingTimeout
	for {
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			logger.Error().Err(err).Msg("failed to set websocket read deadline")
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("connection closed")
			} else {
				logger.Warn().Err(err).Msg("receive failed")
			}
			return
		}
		p, err := wire.DecodePacket(msg)
		if err != nil {
			logger.Error().Err(err).Msg("failed to decode incoming packet")
			continue
		}
		if !g.onPacket(s, p) {
			return
		}
	}
}

func (g *Gateway) servePolling(w http.ResponseWriter, r *http.Request, sid string) {
	if sid == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusBadRequest, ErrBadHandshake)
			return
		}
		s := newSession(wire.TransportPolling)
		g.addSession(s)
		go g.pollingWatchdog(s)
		writeText(w, http.StatusOK, g.openPacket(s))
		return
	}

	s := g.getSession(sid)
	if s == nil || s.transport != wire.TransportPolling {
		writeError(w, http.StatusBadRequest, ErrUnknownSession)
		return
	}
	switch r.Method {
	case http.MethodGet:
		g.poll(w, r, s)
	case http.MethodPost:
		g.receive(w, r, s)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// poll answers a long-polling GET with whatever is queued, waiting for at
// least one packet.
func (g *Gateway) poll(w http.ResponseWriter, r *http.Request, s *session) {
	if !s.pollMx.TryLock() {
		writeError(w, http.StatusBadRequest, ErrBadRequest)
		g.endSession(s)
		return
	}
	defer s.pollMx.Unlock()

	var batch []wire.Packet
	select {
	case p := <-s.out:
		batch = append(batch, p)
	Drain:
		for {
			select {
			case p = <-s.out:
				batch = append(batch, p)
			default:
				break Drain
			}
		}
	case <-s.done:
		batch = []wire.Packet{{Type: wire.PacketClose}}
	case <-r.Context().Done():
		return
	}
	writeText(w, http.StatusOK, wire.EncodePayload(batch))
}

func (g *Gateway) receive(w http.ResponseWriter, r *http.Request, s *session) {
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultMaxPayload))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	packets, err := wire.DecodePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, p := range packets {
		if !g.onPacket(s, p) {
			g.endSession(s)
			break
		}
	}
	writeText(w, http.StatusOK, []byte("ok"))
}

// pollingWatchdog pings a polling session and ends it once the client stops
// talking to us.
func (g *Gateway) pollingWatchdog(s *session) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.idle() > g.pingInterval+g.pingTimeout {
				g.logger.Debug().Str("sid", s.sid).Msg("polling session timed out")
				g.endSession(s)
				return
			}
			s.push(wire.Packet{Type: wire.PacketPing})
		}
	}
}

func writeText(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, code int, err error) {
	b, _ := json.Marshal(map[string]string{"message": err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
			logger.Debug().Err(wsErr).Msg("failed to send close frame")
		}
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
