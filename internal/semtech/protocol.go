// Package semtech implements the Semtech gateway-to-server UDP protocol:
// the 12-byte header framing and the JSON bodies carried by each packet
// type.
package semtech

import (
	"encoding/binary"
	"fmt"
)

// PacketType identifies one of the six Semtech UDP message types.
type PacketType uint8

const (
	PushData PacketType = 0
	PushAck  PacketType = 1
	PullData PacketType = 2
	PullResp PacketType = 3
	PullAck  PacketType = 4
	TxAck    PacketType = 5
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	case TxAck:
		return "TX_ACK"
	default:
		return "UNKNOWN"
	}
}

// ProtocolVersion is the only version this forwarder speaks.
const ProtocolVersion = 2

// Packet is a decoded Semtech UDP frame.
type Packet struct {
	Version uint8
	Token   uint16
	Type    PacketType
	GwEUI   [8]byte
	Body    []byte // JSON payload, if any
}

// Marshal encodes p into its wire representation.
func (p Packet) Marshal() ([]byte, error) {
	switch p.Type {
	case PushAck, PullAck:
		return []byte{p.Version, byte(p.Token >> 8), byte(p.Token), byte(p.Type)}, nil

	case PullData:
		buf := make([]byte, 12)
		buf[0], buf[1], buf[2], buf[3] = p.Version, byte(p.Token>>8), byte(p.Token), byte(p.Type)
		copy(buf[4:], p.GwEUI[:])
		return buf, nil

	case PushData:
		buf := make([]byte, 12+len(p.Body))
		buf[0], buf[1], buf[2], buf[3] = p.Version, byte(p.Token>>8), byte(p.Token), byte(p.Type)
		copy(buf[4:12], p.GwEUI[:])
		copy(buf[12:], p.Body)
		return buf, nil

	case PullResp, TxAck:
		buf := make([]byte, 4+len(p.Body))
		buf[0], buf[1], buf[2], buf[3] = p.Version, byte(p.Token>>8), byte(p.Token), byte(p.Type)
		copy(buf[4:], p.Body)
		return buf, nil

	default:
		return nil, fmt.Errorf("semtech: don't know how to encode packet type %d", p.Type)
	}
}

// Unmarshal decodes data into a Packet.
func Unmarshal(data []byte) (Packet, error) {
	var p Packet
	if len(data) < 4 {
		return p, fmt.Errorf("semtech: buffer too short, need at least 4 bytes, got %d", len(data))
	}
	p.Version = data[0]
	p.Token = binary.BigEndian.Uint16(data[1:3])
	p.Type = PacketType(data[3])

	switch p.Type {
	case PushAck, PullAck:
		// no body

	case PullData:
		if len(data) < 12 {
			return p, fmt.Errorf("semtech: PULL_DATA too short, need 12 bytes, got %d", len(data))
		}
		copy(p.GwEUI[:], data[4:12])

	case PushData:
		if len(data) < 12 {
			return p, fmt.Errorf("semtech: PUSH_DATA too short, need 12 bytes, got %d", len(data))
		}
		copy(p.GwEUI[:], data[4:12])
		if len(data) > 12 {
			p.Body = data[12:]
		}

	case PullResp, TxAck:
		if len(data) > 4 {
			p.Body = data[4:]
		}

	default:
		return p, fmt.Errorf("semtech: unknown packet type %d", data[3])
	}

	return p, nil
}
