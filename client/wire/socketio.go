package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type SocketPacketType byte

// Socket.IO packet types, carried inside Engine.IO message packets.
const (
	SocketConnect      SocketPacketType = '0'
	SocketDisconnect   SocketPacketType = '1'
	SocketEvent        SocketPacketType = '2'
	SocketAck          SocketPacketType = '3'
	SocketConnectError SocketPacketType = '4'
)

// Disconnect reasons, named as Socket.IO clients report them.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

var (
	ErrBadSocketPacket = errors.New("malformed socket packet")
	ErrNamespace       = errors.New("only the main namespace is supported")
)

// SocketPacket is a decoded Socket.IO packet addressed to the main namespace.
type SocketPacket struct {
	Type  SocketPacketType
	Event string          // set for SocketEvent
	Data  json.RawMessage // event payload, connect or connect error body
}

// ConnectPacket asks the server to join the main namespace.
func ConnectPacket() []byte {
	return []byte{byte(SocketConnect)}
}

// DisconnectPacket leaves the main namespace.
func DisconnectPacket() []byte {
	return []byte{byte(SocketDisconnect)}
}

// ConnectAck is what the server answers to ConnectPacket.
func ConnectAck(sid string) ([]byte, error) {
	return encodeObject(SocketConnect, map[string]string{"sid": sid})
}

// ConnectErrorPacket rejects a namespace connect.
func ConnectErrorPacket(message string) ([]byte, error) {
	return encodeObject(SocketConnectError, map[string]string{"message": message})
}

// EncodeEvent builds 2["name",payload].
func EncodeEvent(name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %q: %w", name, err)
	}
	return append([]byte{byte(SocketEvent)}, b...), nil
}

func encodeObject(t SocketPacketType, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(t)}, b...), nil
}

func DecodeSocketPacket(b []byte) (SocketPacket, error) {
	var sp SocketPacket
	if len(b) == 0 {
		return sp, ErrBadSocketPacket
	}
	sp.Type = SocketPacketType(b[0])
	if sp.Type < SocketConnect || sp.Type > SocketConnectError {
		return sp, fmt.Errorf("%w: unknown type %q", ErrBadSocketPacket, b[0])
	}
	rest := b[1:]

	if len(rest) > 0 && rest[0] == '/' {
		i := bytes.IndexByte(rest, ',')
		ns := rest
		if i >= 0 {
			ns, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		if string(ns) != "/" {
			return sp, fmt.Errorf("%w: %s", ErrNamespace, ns)
		}
	}

	// ack ids are not used by this client, skip them
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}

	switch sp.Type {
	case SocketEvent, SocketAck:
		var args []json.RawMessage
		if err := json.Unmarshal(rest, &args); err != nil {
			return sp, fmt.Errorf("%w: %w", ErrBadSocketPacket, err)
		}
		if sp.Type == SocketEvent {
			if len(args) == 0 {
				return sp, fmt.Errorf("%w: event without name", ErrBadSocketPacket)
			}
			if err := json.Unmarshal(args[0], &sp.Event); err != nil {
				return sp, fmt.Errorf("%w: event name: %w", ErrBadSocketPacket, err)
			}
			args = args[1:]
		}
		if len(args) > 0 {
			sp.Data = args[0]
		}
	default:
		if len(rest) > 0 {
			sp.Data = json.RawMessage(rest)
		}
	}
	return sp, nil
}

// ConnectErrorMessage extracts the message of a connect error packet.
func (sp SocketPacket) ConnectErrorMessage() string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(sp.Data, &body); err != nil {
		return string(sp.Data)
	}
	return body.Message
}
