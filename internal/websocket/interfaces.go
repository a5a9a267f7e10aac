package websocket

import (
	"context"
	"net/http"
	"time"
)

// Connection is the subset of a gorilla connection the pumps use.
// Tests substitute a mock.
type Connection interface {
	// WriteMessage writes a message with the given message type and payload
	WriteMessage(messageType int, data []byte) error

	// ReadMessage blocks until the next message arrives
	ReadMessage() (messageType int, p []byte, err error)

	Close() error

	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error

	// SetReadLimit sets the maximum size for a message read from the connection
	SetReadLimit(limit int64)

	// SetPongHandler sets the handler for pong messages
	SetPongHandler(h func(string) error)

	// RemoteAddr returns the remote network address
	RemoteAddr() string
}

// MessageHandler handles one inbound frame. raw is the frame's message:
// nil, a string, or JSON text for any other value.
type MessageHandler func(ctx context.Context, c *Client, event string, raw any)

// Authenticator resolves the principal of an upgrade request. An error
// rejects the connection with 401.
type Authenticator func(r *http.Request) (any, error)

// ErrorListener observes connection-level failures
type ErrorListener func(c *Client, err error)

// ConnectErrorListener observes failed connection attempts
type ConnectErrorListener func(r *http.Request, err error)
