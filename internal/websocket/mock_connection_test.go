package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// mockConnection is an in-memory Connection. ReadMessage blocks until a
// frame is pushed or the connection is closed.
type mockConnection struct {
	mu        sync.Mutex
	inbound   chan []byte
	closeCh   chan struct{}
	closed    bool
	written   []mockMessage
	readLimit int64
	remote    string
}

type mockMessage struct {
	Type int
	Data []byte
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
		remote:  "127.0.0.1:50000",
	}
}

func (m *mockConnection) push(frame string) {
	m.inbound <- []byte(frame)
}

func (m *mockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("connection closed")
	}
	m.written = append(m.written, mockMessage{Type: messageType, Data: data})
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	select {
	case b := <-m.inbound:
		return websocket.TextMessage, b, nil
	case <-m.closeCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closeCh)
	}
	return nil
}

func (m *mockConnection) SetReadDeadline(time.Time) error  { return nil }
func (m *mockConnection) SetWriteDeadline(time.Time) error { return nil }
func (m *mockConnection) SetPongHandler(func(string) error) {}

func (m *mockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *mockConnection) RemoteAddr() string { return m.remote }

func (m *mockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// replies returns the text frames written so far, decoded
func (m *mockConnection) replies() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, msg := range m.written {
		if msg.Type != websocket.TextMessage {
			continue
		}
		var reply map[string]any
		if err := json.Unmarshal(msg.Data, &reply); err == nil {
			out = append(out, reply)
		}
	}
	return out
}

// waitReplies blocks until at least n text frames were written
func (m *mockConnection) waitReplies(t *testing.T, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(m.replies()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return m.replies()
}
