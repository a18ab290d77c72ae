package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/edurace/realtime/client/transport"
	"github.com/edurace/realtime/client/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWebSocketReadBufferSize     = 10000
	defaultWebSocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 1000000
	defaultWebSocketWriteDeadline      = 5 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second

	defaultQueueSize = 64
)

type (
	Config struct {
		Logger *zerolog.Logger
		// Dialer is optional, a dialer with sane buffers is used by default.
		Dialer *websocket.Dialer
	}

	// Transport dials Engine.IO sessions over a websocket.
	Transport struct {
		dialer *websocket.Dialer
		logger zerolog.Logger
	}

	Conn struct {
		ws     *websocket.Conn
		hs     wire.Handshake
		logger zerolog.Logger

		rx   chan []byte
		tx   chan []byte
		done chan struct{}

		mx   sync.Mutex
		err  error
		once sync.Once
	}
)

func NewTransport(cfg Config) *Transport {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:           websocket.DefaultDialer.Proxy,
			ReadBufferSize:  defaultWebSocketReadBufferSize,
			WriteBufferSize: defaultWebSocketWriteBufferSize,
		}
	}
	return &Transport{
		dialer: dialer,
		logger: cfg.Logger.With().Str("component", "websocket-transport").Logger(),
	}
}

func (t *Transport) Name() string {
	return wire.TransportWebsocket
}

// Dial opens the websocket and waits for the Engine.IO open packet.
// ctx bounds both steps.
func (t *Transport) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	u, err := wire.EndpointURL(endpoint, wire.TransportWebsocket, "")
	if err != nil {
		return nil, err
	}

	ws, _, err := t.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(dl)
	}
	// a canceled ctx unblocks the read below by closing the socket
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	_, msg, err := ws.ReadMessage()
	if !stop() {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to read open packet: %w", ctx.Err())
	}
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to read open packet: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	p, err := wire.DecodePacket(msg)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	hs, err := wire.DecodeHandshake(p)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	conn := newConn(ws, hs, &t.logger)
	go conn.run()

	t.logger.Debug().Str("sid", hs.SID).Str("url", u).Msg("websocket session opened")
	return conn, nil
}

func newConn(ws *websocket.Conn, hs wire.Handshake, logger *zerolog.Logger) *Conn {
	return &Conn{
		ws:     ws,
		hs:     hs,
		logger: logger.With().Str("sid", hs.SID).Logger(),
		rx:     make(chan []byte, defaultQueueSize),
		tx:     make(chan []byte, defaultQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *Conn) Name() string {
	return wire.TransportWebsocket
}

func (c *Conn) Messages() <-chan []byte {
	return c.rx
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.fail(transport.ErrClosed)
	return nil
}

func (c *Conn) Write(ctx context.Context, msg []byte) error {
	return c.enqueue(ctx, wire.Packet{Type: wire.PacketMessage, Data: msg})
}

func (c *Conn) enqueue(ctx context.Context, p wire.Packet) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	select {
	case c.tx <- wire.EncodePacket(p):
		return nil
	case <-c.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail records the first error and ends the session.
func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.mx.Lock()
		c.err = err
		c.mx.Unlock()
		close(c.done)
	})
}

func (c *Conn) run() {
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go c.receiver(wg)

	c.sender()
	if errors.Is(c.Err(), transport.ErrClosed) {
		c.flush()
	}
	webSocketCloser(c.ws, &c.logger)
	wg.Wait()
}

func (c *Conn) receiver(wg *sync.WaitGroup) {
	defer func() {
		close(c.rx)
		wg.Done()
	}()

	maxSize := int64(c.hs.MaxPayload)
	if maxSize <= 0 {
		maxSize = defaultWebSocketMaxMessageSize
	}
	c.ws.SetReadLimit(maxSize)
	c.extendDeadline()

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(classify(err))
			return
		}
		p, err := wire.DecodePacket(msg)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to decode incoming packet")
			continue
		}

		switch p.Type {
		case wire.PacketPing:
			c.logger.Trace().Msg("got ping")
			c.extendDeadline()
			if err = c.enqueue(context.Background(), wire.Packet{Type: wire.PacketPong, Data: p.Data}); err != nil {
				return
			}
		case wire.PacketMessage:
			select {
			case c.rx <- p.Data:
			case <-c.done:
				return
			}
		case wire.PacketClose:
			c.fail(transport.ErrTransportClose)
			return
		default:
			c.logger.Trace().Str("type", string(p.Type)).Msg("packet ignored")
		}
	}
}

func (c *Conn) extendDeadline() {
	if d := c.hs.Deadline(); d > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(d))
	}
}

func (c *Conn) sender() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.tx:
			if err := c.write(msg); err != nil {
				c.logger.Error().Err(err).Msg("failed to write outgoing packet")
				c.fail(errors.Join(transport.ErrTransportError, err))
				return
			}
		}
	}
}

// flush writes what is still queued after a local close, then tells the
// server the session is over.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.tx:
			if err := c.write(msg); err != nil {
				c.logger.Debug().Err(err).Msg("failed to flush outgoing packet")
				return
			}
		default:
			if err := c.write(wire.EncodePacket(wire.Packet{Type: wire.PacketClose})); err != nil {
				c.logger.Debug().Err(err).Msg("failed to send close packet")
			}
			return
		}
	}
}

func (c *Conn) write(msg []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return errors.Join(transport.ErrPingTimeout, err)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		return errors.Join(transport.ErrTransportClose, err)
	default:
		return errors.Join(transport.ErrTransportError, err)
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		logger.Debug().Err(wsErr).Msg("failed to send close frame")
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
