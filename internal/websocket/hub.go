package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"idylle/internal/infrastructure"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients
	clients map[*Client]struct{}

	// Outbound messages for every client
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *OTelMetrics

	totalConnections int64
	messagesSent     int64

	running  bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. It does nothing until Start.
func NewHub(logger *slog.Logger, metrics *OTelMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in a goroutine. Calling it again, or after Stop,
// has no effect.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.quit:
		return
	default:
	}
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.RecordConnection(client.ctx)
			h.logger.InfoContext(client.ctx, "client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				client.closeSend()
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				h.metrics.RecordDisconnection(client.ctx, time.Since(client.connectedAt))
				h.logger.InfoContext(client.ctx, "client unregistered",
					slog.String("client_id", client.id),
					slog.Int("total_clients", count),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			failed := 0
			for _, client := range clients {
				err := client.enqueue(message)
				if err == nil {
					continue
				}
				failed++
				if errors.Is(err, ErrSendBufferFull) {
					// a client that cannot keep up is dropped
					h.mu.Lock()
					delete(h.clients, client)
					client.closeSend()
					h.mu.Unlock()

					h.metrics.RecordDropped(client.ctx)
					h.logger.WarnContext(client.ctx, "client send buffer full, disconnecting",
						slog.String("client_id", client.id))
				}
			}

			h.mu.Lock()
			h.messagesSent += int64(len(clients) - failed)
			h.mu.Unlock()

			if failed > 0 {
				h.logger.Warn("some clients failed to receive broadcast",
					slog.Int("success_count", len(clients)-failed),
					slog.Int("fail_count", failed))
			}
		}
	}
}

// Register adds client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes client and closes its send queue
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Broadcast queues message for every registered client. It reports false
// while the hub is not running.
func (h *Hub) Broadcast(message []byte) bool {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return false
	}

	select {
	case h.broadcast <- message:
		return true
	case <-h.quit:
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends the hub loop and closes every client's send queue
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		running := h.running
		close(h.quit)
		h.mu.Unlock()

		if running {
			<-h.done
		}
	})
}

// Stats returns counters for the health report
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]any{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
	}
}

// logContext returns ctx carrying traceID for log correlation
func logContext(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return infrastructure.WithTraceID(ctx, traceID)
}
