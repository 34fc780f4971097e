// Package hub fans session events out to websocket subscribers using a
// channel-based broadcast loop.
package hub

import "encoding/json"

// MessageType indicates the websocket frame format.
type MessageType int

const (
	// TextMessage is a JSON-encoded frame.
	TextMessage MessageType = iota
	// BinaryMessage is raw binary data, such as PCM audio.
	BinaryMessage
)

// Message is one frame queued for every connected client.
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage wraps pre-encoded JSON.
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Envelope is the JSON shape relayed for every session event.
type Envelope struct {
	Event   string          `json:"event"`
	Session string          `json:"session,omitempty"`
	Seq     uint64          `json:"seq"`
	Data    json.RawMessage `json:"data,omitempty"`
}
