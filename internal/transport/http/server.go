package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"idylle/internal/config"
	"idylle/internal/infrastructure"
)

var (
	// ErrAlreadyListening is returned by a second Listen
	ErrAlreadyListening = errors.New("server is already listening")

	// ErrNoHandler is returned by Listen before SetHandler
	ErrNoHandler = errors.New("server has no handler")
)

// Server wraps *http.Server. Listen binds synchronously and serves in the
// background, so bind failures surface to the caller. cfg is read at Listen
// time, so settings changed during boot apply.
type Server struct {
	cfg    *config.ServerConfig
	logger *slog.Logger

	mu      sync.Mutex
	handler http.Handler
	srv     *http.Server
	ln      net.Listener
	done    chan struct{}
}

// NewServer creates an unbound server. A nil cfg uses the defaults.
func NewServer(cfg *config.ServerConfig, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = &config.Default().Server
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "http.server")),
	}
}

// SetHandler sets the root handler. It must be called before Listen.
func (s *Server) SetHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Listen binds host:port and starts serving in a goroutine
func (s *Server) Listen(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return ErrAlreadyListening
	}
	if s.handler == nil {
		return ErrNoHandler
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	done := make(chan struct{})

	s.srv, s.ln, s.done = srv, ln, done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	s.logger.InfoContext(ctx, "listening", slog.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Listen
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting connections and waits for active requests.
// Hijacked connections, such as websockets, are not tracked.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("server shutdown: %w", ctx.Err())
	}
	s.logger.Info("server stopped")
	return nil
}
