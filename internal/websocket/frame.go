package websocket

import (
	"bytes"
	"encoding/json"
)

// Frame is an inbound message: {"event": "...", "message": ...}
type Frame struct {
	Event   string          `json:"event"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Reply is an outbound message. Exactly one of Data and Error is set.
type Reply struct {
	Event string `json:"event"`
	Token any    `json:"token,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error any    `json:"error,omitempty"`
}

// Payload returns the frame's message in the shape context building accepts.
// A JSON string is unwrapped so its content is decoded as a message.
func (f Frame) Payload() any {
	msg := bytes.TrimSpace(f.Message)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil
	}
	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			return s
		}
	}
	return json.RawMessage(msg)
}
