package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apierrors "idylle/internal/errors"
)

var (
	// ErrClientClosed is returned when emitting to a disconnected client
	ErrClientClosed = errors.New("websocket client closed")

	// ErrSendBufferFull is returned when a client's outbound queue is full
	ErrSendBufferFull = errors.New("websocket send buffer full")

	errMissingEvent = errors.New("missing event")
)

const sendBufferSize = 256

// Client is a middleman between one websocket connection and the hub.
// It is the connection handed to context building.
type Client struct {
	id          string
	server      *Server
	conn        Connection
	principal   any
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger

	// ctx is cancelled when the client disconnects
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte
	closed bool

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

func newClient(s *Server, conn Connection, id string, principal any, traceID string) *Client {
	ctx, cancel := context.WithCancel(logContext(s.baseCtx, traceID))
	return &Client{
		id:          id,
		server:      s,
		conn:        conn,
		principal:   principal,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger: s.logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// Principal returns the identity resolved at upgrade time, or nil
func (c *Client) Principal() any { return c.principal }

// RemoteAddr returns the peer address
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// Context is cancelled when the client disconnects
func (c *Client) Context() context.Context { return c.ctx }

// Emit queues a data frame for event
func (c *Client) Emit(event string, token, data any) error {
	return c.write(Reply{Event: event, Token: token, Data: data})
}

// EmitError queues an error frame for event
func (c *Client) EmitError(event string, token, payload any) error {
	return c.write(Reply{Event: event, Token: token, Error: payload})
}

func (c *Client) write(r Reply) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	return c.enqueue(b)
}

func (c *Client) enqueue(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// closeSend closes the outbound queue; the write pump then says goodbye
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump decodes inbound frames and hands them to the server
func (c *Client) readPump() {
	t := c.server.timing
	defer func() {
		c.cancel()
		c.server.hub.Unregister(c)
		c.conn.Close()
		c.logger.InfoContext(c.ctx, "websocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("messages_received", c.messagesReceived.Load()),
			slog.Int64("messages_sent", c.messagesSent.Load()))
	}()

	c.conn.SetReadLimit(t.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.reportError(c, fmt.Errorf("read: %w", err))
			}
			return
		}
		c.messagesReceived.Add(1)
		c.server.metrics.RecordMessage(c.ctx, "in", len(data))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			if err == nil {
				err = errMissingEvent
			}
			err = fmt.Errorf("invalid frame: %w", err)
			c.server.reportError(c, err)
			c.EmitError(f.Event, nil, c.server.errors.ErrorPayload(c.ctx, apierrors.InvalidRequestWithError(err)))
			continue
		}

		c.server.dispatch(c, f)
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Client) writePump() {
	t := c.server.timing
	ticker := time.NewTicker(t.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if !ok {
				// the hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.reportError(c, fmt.Errorf("write: %w", err))
				return
			}
			c.messagesSent.Add(1)
			c.server.metrics.RecordMessage(c.ctx, "out", len(message))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.ctx, "failed to send ping", slog.String("error", err.Error()))
				return
			}
		}
	}
}
