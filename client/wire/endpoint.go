package wire

import (
	"errors"
	"fmt"
	"net/url"
)

// Transport names, as used in the transport query parameter.
const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"
)

const defaultPath = "/socket.io/"

var ErrBadEndpoint = errors.New("bad realtime endpoint")

// EndpointURL turns the configured endpoint (e.g. ws://localhost:8080) into
// the URL a transport has to dial. Any path on the endpoint is replaced with
// the Socket.IO path; sid is added when non-empty.
func EndpointURL(endpoint, transport, sid string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Join(ErrBadEndpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrBadEndpoint, endpoint)
	}

	secure := u.Scheme == "wss" || u.Scheme == "https"
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrBadEndpoint, u.Scheme)
	}

	switch transport {
	case TransportWebsocket:
		u.Scheme = "ws"
		if secure {
			u.Scheme = "wss"
		}
	case TransportPolling:
		u.Scheme = "http"
		if secure {
			u.Scheme = "https"
		}
	default:
		return "", fmt.Errorf("%w: unknown transport %q", ErrBadEndpoint, transport)
	}

	u.Path = defaultPath
	q := url.Values{}
	q.Set("EIO", Protocol)
	q.Set("transport", transport)
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
