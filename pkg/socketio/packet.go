package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 packet types.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
	sioBinaryEvent  byte = '5'
	sioBinaryAck    byte = '6'
)

type packet struct {
	Type      byte
	Namespace string
	AckID     *int
	Data      json.RawMessage
}

// Event is a decoded EVENT packet: ["name", arg0, arg1, ...].
type Event struct {
	Name string
	Args []json.RawMessage
}

// Arg returns the i-th argument or nil.
func (e Event) Arg(i int) json.RawMessage {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

type connectErrorPayload struct {
	Message string `json:"message"`
}

func encodePacket(p packet) []byte {
	var b strings.Builder
	b.WriteByte(eioMessage)
	b.WriteByte(p.Type)
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.AckID != nil {
		b.WriteString(strconv.Itoa(*p.AckID))
	}
	b.Write(p.Data)
	return []byte(b.String())
}

// decodePacket parses a Socket.IO packet with the leading Engine.IO '4'
// already stripped.
func decodePacket(b []byte) (packet, error) {
	if len(b) == 0 {
		return packet{}, errors.New("empty socket.io packet")
	}
	p := packet{Type: b[0], Namespace: "/"}
	rest := b[1:]

	if p.Type == sioBinaryEvent || p.Type == sioBinaryAck {
		return packet{}, fmt.Errorf("binary packets are not supported")
	}
	if p.Type < sioConnect || p.Type > sioBinaryAck {
		return packet{}, fmt.Errorf("unknown socket.io packet type %q", p.Type)
	}

	if len(rest) > 0 && rest[0] == '/' {
		i := 0
		for i < len(rest) && rest[i] != ',' {
			i++
		}
		p.Namespace = string(rest[:i])
		if i < len(rest) {
			i++
		}
		rest = rest[i:]
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(string(rest[:i]))
		if err != nil {
			return packet{}, fmt.Errorf("bad ack id: %w", err)
		}
		p.AckID = &id
		rest = rest[i:]
	}

	if len(rest) > 0 {
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

func decodeEvent(data json.RawMessage) (Event, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if len(parts) == 0 {
		return Event{}, errors.New("event has no name")
	}
	var ev Event
	if err := json.Unmarshal(parts[0], &ev.Name); err != nil {
		return Event{}, fmt.Errorf("event name is not a string: %w", err)
	}
	ev.Args = parts[1:]
	return ev, nil
}

func encodeEvent(namespace, name string, args ...interface{}) ([]byte, error) {
	parts := make([]interface{}, 0, len(args)+1)
	parts = append(parts, name)
	parts = append(parts, args...)
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", name, err)
	}
	return encodePacket(packet{Type: sioEvent, Namespace: namespace, Data: data}), nil
}
