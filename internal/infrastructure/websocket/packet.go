package websocket

import (
	"encoding/json"
	"fmt"

	"socket-service/internal/domain"
)

type PacketType string

const (
	PacketEvent PacketType = "event"
	PacketAck   PacketType = "ack"
	PacketError PacketType = "error"
	PacketPing  PacketType = "ping"
	PacketPong  PacketType = "pong"
)

// Packet is a frame as read from a client. Args stay raw until a handler
// parameter asks for them.
type Packet struct {
	Type    PacketType        `json:"type"`
	Event   string            `json:"event,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	ID      *int64            `json:"id,omitempty"`
	Message string            `json:"message,omitempty"`
}

type outPacket struct {
	Type    PacketType    `json:"type"`
	Event   string        `json:"event,omitempty"`
	Args    []interface{} `json:"args,omitempty"`
	ID      *int64        `json:"id,omitempty"`
	Message string        `json:"message,omitempty"`
}

func DecodePacket(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPacket, err)
	}

	switch p.Type {
	case PacketEvent:
		if p.Event == "" {
			return nil, fmt.Errorf("%w: event packet without event name", domain.ErrInvalidPacket)
		}
	case PacketPing, PacketPong:
	default:
		return nil, fmt.Errorf("%w: unexpected type %q", domain.ErrInvalidPacket, p.Type)
	}
	return &p, nil
}

func eventPacket(event string, args []interface{}) outPacket {
	return outPacket{Type: PacketEvent, Event: event, Args: args}
}

func ackPacket(id int64, args []interface{}) outPacket {
	return outPacket{Type: PacketAck, ID: &id, Args: args}
}

func errorPacket(event string, id *int64, message string) outPacket {
	return outPacket{Type: PacketError, Event: event, ID: id, Message: message}
}
