// Package wire implements the Engine.IO v4 and Socket.IO v5 framing spoken by
// the realtime gateway.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PacketType byte

// Engine.IO packet types.
const (
	PacketOpen    PacketType = '0'
	PacketClose   PacketType = '1'
	PacketPing    PacketType = '2'
	PacketPong    PacketType = '3'
	PacketMessage PacketType = '4'
	PacketUpgrade PacketType = '5'
	PacketNoop    PacketType = '6'
)

// Protocol is the Engine.IO revision sent in the EIO query parameter.
const Protocol = "4"

// recordSeparator delimits packets inside one long-polling body.
const recordSeparator = 0x1e

var (
	ErrEmptyPacket   = errors.New("empty packet")
	ErrUnknownPacket = errors.New("unknown packet type")
	ErrNotOpen       = errors.New("first packet is not an open packet")
)

type Packet struct {
	Type PacketType
	Data []byte
}

// Handshake is the payload of the open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // millis
	PingTimeout  int      `json:"pingTimeout"`  // millis
	MaxPayload   int      `json:"maxPayload"`
}

// Deadline is how long a transport may stay silent before the session is
// considered dead: the server pings every PingInterval and allows PingTimeout
// for the pong.
func (h Handshake) Deadline() time.Duration {
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}

func (t PacketType) valid() bool {
	return t >= PacketOpen && t <= PacketNoop
}

func EncodePacket(p Packet) []byte {
	b := make([]byte, 0, len(p.Data)+1)
	b = append(b, byte(p.Type))
	return append(b, p.Data...)
}

func DecodePacket(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, ErrEmptyPacket
	}
	t := PacketType(b[0])
	if !t.valid() {
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownPacket, b[0])
	}
	return Packet{Type: t, Data: b[1:]}, nil
}

// EncodePayload joins packets into a single long-polling body.
func EncodePayload(packets []Packet) []byte {
	var buf bytes.Buffer
	for i, p := range packets {
		if i > 0 {
			buf.WriteByte(recordSeparator)
		}
		buf.Write(EncodePacket(p))
	}
	return buf.Bytes()
}

// DecodePayload splits a long-polling body into packets.
func DecodePayload(b []byte) ([]Packet, error) {
	parts := bytes.Split(b, []byte{recordSeparator})
	packets := make([]Packet, 0, len(parts))
	for _, part := range parts {
		p, err := DecodePacket(part)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func DecodeHandshake(p Packet) (Handshake, error) {
	var h Handshake
	if p.Type != PacketOpen {
		return h, ErrNotOpen
	}
	if err := json.Unmarshal(p.Data, &h); err != nil {
		return h, fmt.Errorf("failed to decode handshake: %w", err)
	}
	return h, nil
}

func EncodeHandshake(h Handshake) (Packet, error) {
	b, err := json.Marshal(&h)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: PacketOpen, Data: b}, nil
}
