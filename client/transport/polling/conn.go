// Package polling implements the Engine.IO long-polling transport, used when
// a websocket cannot be opened.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edurace/realtime/client/transport"
	"github.com/edurace/realtime/client/wire"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	defaultPollTimeout  = 45 * time.Second
	defaultPostTimeout  = 5 * time.Second
	defaultCloseTimeout = 2 * time.Second

	defaultQueueSize = 64
	contentType      = "text/plain;charset=UTF-8"
)

var ErrHandshake = errors.New("polling handshake failed")

type (
	Config struct {
		Logger *zerolog.Logger
		// Client is optional.
		Client *resty.Client
	}

	Transport struct {
		client *resty.Client
		logger zerolog.Logger
	}

	Conn struct {
		client *resty.Client
		url    string
		hs     wire.Handshake
		logger zerolog.Logger

		ctx    context.Context
		cancel context.CancelFunc

		rx   chan []byte
		tx   chan []byte
		done chan struct{}

		mx   sync.Mutex
		err  error
		once sync.Once
	}
)

func NewTransport(cfg Config) *Transport {
	client := cfg.Client
	if client == nil {
		client = resty.New()
	}
	return &Transport{
		client: client,
		logger: cfg.Logger.With().Str("component", "polling-transport").Logger(),
	}
}

func (t *Transport) Name() string {
	return wire.TransportPolling
}

func (t *Transport) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	u, err := wire.EndpointURL(endpoint, wire.TransportPolling, "")
	if err != nil {
		return nil, err
	}

	resp, err := t.client.R().SetContext(ctx).Get(u)
	if err != nil {
		return nil, errors.Join(ErrHandshake, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrHandshake, resp.StatusCode())
	}

	packets, err := wire.DecodePayload(resp.Body())
	if err != nil {
		return nil, errors.Join(ErrHandshake, err)
	}
	hs, err := wire.DecodeHandshake(packets[0])
	if err != nil {
		return nil, errors.Join(ErrHandshake, err)
	}

	sessURL, err := wire.EndpointURL(endpoint, wire.TransportPolling, hs.SID)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		client: t.client,
		url:    sessURL,
		hs:     hs,
		logger: t.logger.With().Str("sid", hs.SID).Logger(),
		ctx:    connCtx,
		cancel: cancel,
		rx:     make(chan []byte, defaultQueueSize),
		tx:     make(chan []byte, defaultQueueSize),
		done:   make(chan struct{}),
	}
	go conn.run(packets[1:])

	t.logger.Debug().Str("sid", hs.SID).Str("url", u).Msg("polling session opened")
	return conn, nil
}

func (c *Conn) Name() string {
	return wire.TransportPolling
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

func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.mx.Lock()
		c.err = err
		c.mx.Unlock()
		close(c.done)
	})
}

func (c *Conn) run(initial []wire.Packet) {
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go c.poller(wg, initial)

	c.sender()
	if errors.Is(c.Err(), transport.ErrClosed) {
		c.sendClose()
	}
	c.cancel()
	wg.Wait()
}

func (c *Conn) poller(wg *sync.WaitGroup, initial []wire.Packet) {
	defer func() {
		close(c.rx)
		wg.Done()
	}()

	if !c.handle(initial) {
		return
	}
	for {
		packets, err := c.poll()
		if err != nil {
			c.fail(err)
			return
		}
		if !c.handle(packets) {
			return
		}
	}
}

func (c *Conn) poll() ([]wire.Packet, error) {
	timeout := c.hs.Deadline()
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	resp, err := c.client.R().SetContext(ctx).Get(c.url)
	switch {
	case err != nil && c.ctx.Err() != nil:
		return nil, transport.ErrClosed
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return nil, errors.Join(transport.ErrPingTimeout, err)
	case err != nil:
		return nil, errors.Join(transport.ErrTransportError, err)
	case resp.IsError():
		return nil, fmt.Errorf("%w: poll status %d", transport.ErrTransportError, resp.StatusCode())
	}

	packets, err := wire.DecodePayload(resp.Body())
	if err != nil {
		return nil, errors.Join(transport.ErrTransportError, err)
	}
	return packets, nil
}

// handle processes one batch of packets and reports whether polling should go on.
func (c *Conn) handle(packets []wire.Packet) bool {
	for _, p := range packets {
		switch p.Type {
		case wire.PacketPing:
			c.logger.Trace().Msg("got ping")
			if err := c.enqueue(c.ctx, wire.Packet{Type: wire.PacketPong, Data: p.Data}); err != nil {
				return false
			}
		case wire.PacketMessage:
			select {
			case c.rx <- p.Data:
			case <-c.done:
				return false
			}
		case wire.PacketClose:
			c.fail(transport.ErrTransportClose)
			return false
		default:
			c.logger.Trace().Str("type", string(p.Type)).Msg("packet ignored")
		}
	}
	return true
}

func (c *Conn) sender() {
	for {
		select {
		case <-c.done:
			return
		case first := <-c.tx:
			batch := c.drain([][]byte{first})
			if err := c.post(c.ctx, joinPackets(batch), defaultPostTimeout); err != nil {
				c.logger.Error().Err(err).Msg("failed to post outgoing packets")
				c.fail(errors.Join(transport.ErrTransportError, err))
				return
			}
		}
	}
}

func (c *Conn) drain(batch [][]byte) [][]byte {
	for {
		select {
		case msg := <-c.tx:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}

// sendClose posts whatever is still queued after a local close together
// with the close packet.
func (c *Conn) sendClose() {
	batch := c.drain(nil)
	batch = append(batch, wire.EncodePacket(wire.Packet{Type: wire.PacketClose}))

	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()
	if err := c.post(ctx, joinPackets(batch), defaultCloseTimeout); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send close packet")
	}
}

func (c *Conn) post(ctx context.Context, body []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		Post(c.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("post status %d", resp.StatusCode())
	}
	return nil
}

func joinPackets(encoded [][]byte) []byte {
	packets := make([]wire.Packet, 0, len(encoded))
	for _, b := range encoded {
		// already encoded by enqueue, cannot fail
		p, _ := wire.DecodePacket(b)
		packets = append(packets, p)
	}
	return wire.EncodePayload(packets)
}
