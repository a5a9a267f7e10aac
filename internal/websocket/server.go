// Package websocket is the real-time transport: a gorilla upgrader, a hub of
// connected clients and an event router that delivers (client, message)
// pairs to handlers.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"idylle/internal/action"
	"idylle/internal/config"
	apierrors "idylle/internal/errors"
	"idylle/internal/infrastructure"
	"idylle/internal/middleware"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

type timing struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

func timingFrom(cfg config.WebSocketConfig) timing {
	t := timing{
		writeWait:      cfg.WriteWait,
		pongWait:       cfg.PongWait,
		pingPeriod:     cfg.PingPeriod,
		maxMessageSize: cfg.MaxMessageSize,
	}
	if t.writeWait <= 0 {
		t.writeWait = defaultWriteWait
	}
	if t.pongWait <= 0 {
		t.pongWait = defaultPongWait
	}
	// pings must go out before the peer's pong deadline passes
	if t.pingPeriod <= 0 || t.pingPeriod >= t.pongWait {
		t.pingPeriod = (t.pongWait * 9) / 10
	}
	if t.maxMessageSize <= 0 {
		t.maxMessageSize = defaultMaxMessageSize
	}
	return t
}

// Options configures a Server
type Options struct {
	// Config is read when the first connection arrives. Nil uses the defaults.
	Config *config.WebSocketConfig
	Logger *slog.Logger

	// Errors renders error frames and rejected upgrades. Defaults to the
	// RFC 7807 handler.
	Errors action.ErrorHandler

	// Authenticator resolves the principal of each connection. Without one
	// the principal is whatever an HTTP auth middleware attached.
	Authenticator Authenticator

	// CheckOrigin defaults to accepting every origin
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades HTTP requests and routes inbound frames by event name
type Server struct {
	cfg      *config.WebSocketConfig
	prepared sync.Once
	upgrader websocket.Upgrader
	hub      *Hub
	router   *Router
	timing   timing
	logger   *slog.Logger
	errors   action.ErrorHandler
	auth     Authenticator
	metrics  *OTelMetrics

	baseCtx context.Context
	cancel  context.CancelFunc

	// mu guards the listener lists, closed and additions to wg
	mu             sync.RWMutex
	onError        []ErrorListener
	onConnectError []ConnectErrorListener
	closed         bool
	wg             sync.WaitGroup
}

// NewServer creates a server. The hub starts with the first connection.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket"))

	errs := opts.Errors
	if errs == nil {
		errs = apierrors.NewErrorHandler(logger, false)
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	metrics, err := NewOTelMetrics()
	if err != nil {
		logger.Warn("websocket metrics unavailable", slog.String("error", err.Error()))
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = &config.WebSocketConfig{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		hub:      NewHub(logger, metrics),
		router:   NewRouter(),
		logger:   logger,
		errors:   errs,
		auth:     opts.Authenticator,
		metrics:  metrics,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// prepare applies the configuration once, before the first upgrade
func (s *Server) prepare() {
	s.prepared.Do(func() {
		s.upgrader.ReadBufferSize = s.cfg.ReadBufferSize
		s.upgrader.WriteBufferSize = s.cfg.WriteBufferSize
		s.timing = timingFrom(*s.cfg)
	})
}

// Router returns the event router
func (s *Server) Router() *Router { return s.router }

// Hub returns the client hub
func (s *Server) Hub() *Hub { return s.hub }

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int { return s.hub.ClientCount() }

// On binds h to event on the server's router
func (s *Server) On(event string, h MessageHandler) *Server {
	s.router.On(event, h)
	return s
}

// OnError registers a listener for connection-level failures
func (s *Server) OnError(l ErrorListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, l)
}

// OnConnectError registers a listener for failed connection attempts
func (s *Server) OnConnectError(l ConnectErrorListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnectError = append(s.onConnectError, l)
}

// ServeHTTP authenticates and upgrades the request, then runs the
// client's pumps until it disconnects
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		s.errors.HandleError(w, r, apierrors.ErrServiceUnavailable)
		return
	}

	principal := middleware.PrincipalFrom(r.Context())
	if s.auth != nil {
		p, err := s.auth(r)
		if err != nil {
			s.reportConnectError(r, fmt.Errorf("authenticate: %w", err))
			s.errors.HandleError(w, r, fmt.Errorf("%w: %v", apierrors.ErrUnauthorized, err))
			return
		}
		principal = p
	}

	s.prepare()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		s.reportConnectError(r, fmt.Errorf("upgrade: %w", err))
		return
	}

	traceID := middleware.GetRequestID(r.Context())
	if traceID == "" {
		traceID = uuid.New().String()
	}
	s.serve(wrapConn(conn), uuid.New().String(), principal, traceID)
}

// serve registers a client on conn and starts its pumps
func (s *Server) serve(conn Connection, id string, principal any, traceID string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		conn.Close()
		return nil
	}

	s.prepare()
	s.hub.Start()
	c := newClient(s, conn, id, principal, traceID)
	if !s.hub.Register(c) {
		c.cancel()
		conn.Close()
		return nil
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
	return c
}

// dispatch runs the handler bound to f.Event in its own goroutine so a slow
// handler does not stall the read pump
func (s *Server) dispatch(c *Client, f Frame) {
	h, ok := s.router.lookup(f.Event)
	if !ok {
		c.EmitError(f.Event, nil, s.errors.ErrorPayload(c.ctx, apierrors.ErrActionNotFound))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.logger.ErrorContext(c.ctx, "message handler panicked",
					slog.String("event", f.Event),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())))
				s.reportError(c, fmt.Errorf("handler for %q panicked: %v", f.Event, rec))
			}
		}()

		start := time.Now()
		h(c.ctx, c, f.Event, f.Payload())
		s.metrics.RecordDispatch(c.ctx, f.Event, time.Since(start))
	}()
}

// Broadcast sends a data frame for event to every connected client
func (s *Server) Broadcast(event string, data any) error {
	b, err := json.Marshal(Reply{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	s.hub.Broadcast(b)
	return nil
}

func (s *Server) reportError(c *Client, err error) {
	c.logger.WarnContext(c.ctx, "websocket error", slog.String("error", err.Error()))
	s.metrics.RecordError(c.ctx, "connection")

	s.mu.RLock()
	listeners := append([]ErrorListener(nil), s.onError...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(c, err)
	}
}

func (s *Server) reportConnectError(r *http.Request, err error) {
	s.logger.WarnContext(r.Context(), "websocket connect error",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("error", err.Error()))
	s.metrics.RecordError(r.Context(), "connect")

	s.mu.RLock()
	listeners := append([]ConnectErrorListener(nil), s.onConnectError...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(r, err)
	}
}

// Shutdown disconnects every client and waits for pumps and handlers to
// finish, or for ctx to end
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.hub.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("websocket server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket shutdown: %w", ctx.Err())
	}
}
