// Package transport defines the connection abstraction the realtime client
// dials through. Engine.IO housekeeping (handshake, ping/pong, close packets)
// is handled inside each transport; a Conn only surfaces Socket.IO packets.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/edurace/realtime/client/wire"
	"github.com/rs/zerolog"
)

var (
	ErrClosed         = errors.New("connection is closed")
	ErrPingTimeout    = errors.New("ping timeout")
	ErrTransportClose = errors.New("transport closed by peer")
	ErrTransportError = errors.New("transport error")
	ErrNoTransports   = errors.New("no transports configured")
)

type (
	// Conn is one live transport session.
	Conn interface {
		// Write queues a Socket.IO packet for sending.
		Write(ctx context.Context, msg []byte) error
		// Messages yields inbound Socket.IO packets in arrival order.
		Messages() <-chan []byte
		// Done is closed once the session is over, Err tells why.
		Done() <-chan struct{}
		Err() error
		Close() error
		Name() string
	}

	Dialer interface {
		Dial(ctx context.Context, endpoint string) (Conn, error)
		Name() string
	}
)

// Reason maps a transport error to the disconnect reason reported upstream.
func Reason(err error) string {
	switch {
	case err == nil, errors.Is(err, ErrClosed):
		return wire.ReasonClientDisconnect
	case errors.Is(err, ErrPingTimeout):
		return wire.ReasonPingTimeout
	case errors.Is(err, ErrTransportClose):
		return wire.ReasonTransportClose
	default:
		return wire.ReasonTransportError
	}
}

// Fallback dials transports in order and returns the first that opens.
type Fallback struct {
	dialers []Dialer
	logger  zerolog.Logger
}

func NewFallback(logger *zerolog.Logger, dialers ...Dialer) *Fallback {
	return &Fallback{
		dialers: dialers,
		logger:  logger.With().Str("component", "transport").Logger(),
	}
}

func (f *Fallback) Name() string {
	return "fallback"
}

func (f *Fallback) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if len(f.dialers) == 0 {
		return nil, ErrNoTransports
	}
	var errs error
	for _, d := range f.dialers {
		conn, err := d.Dial(ctx, endpoint)
		if err == nil {
			return conn, nil
		}
		errs = errors.Join(errs, fmt.Errorf("%s: %w", d.Name(), err))
		if ctx.Err() != nil {
			break
		}
		f.logger.Debug().Err(err).Str("transport", d.Name()).Msg("transport failed, trying next")
	}
	return nil, errs
}
