package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"idylle/internal/action"
	"idylle/internal/cache"
	"idylle/internal/config"
	"idylle/internal/criteria"
	"idylle/internal/infrastructure"
	"idylle/internal/middleware"
	"idylle/internal/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Transport is the network surface started by the start stage
type Transport interface {
	Listen(ctx context.Context, host string, port int) error
}

// HandlerSetter is implemented by transports that serve Application.Router
type HandlerSetter interface {
	SetHandler(h http.Handler)
}

// Shutdowner is implemented by transports that can be stopped
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Dependencies are the collaborators bound into the action environment.
// Nil fields fall back to the built-in implementations.
type Dependencies struct {
	CriteriaBuilder criteria.Builder
	ErrorHandler    action.ErrorHandler
	ResponseHandler action.ResponseHandler
}

// Application is the runtime state shared by every stage of the boot
// sequence. Listeners registered for state stages receive it whole.
type Application struct {
	Settings    *config.Settings
	Middlewares *Registry[middleware.Func]
	Models      *Registry[any]
	Actions     *Registry[action.Handler]
	Transport   Transport
	IO          *websocket.Server
	Router      *chi.Mux
	Logger      *slog.Logger
	Telemetry   *infrastructure.OTelProviders
	Version     string

	providers   Providers
	listeners   *Listeners
	metrics     *infrastructure.StageMetrics
	tracer      trace.Tracer
	fixedLogger bool

	// regErr holds the first failure from the chaining On helpers
	regErr error

	// mu guards env, cache and history
	mu      sync.Mutex
	env     action.Env
	cache   cache.Cache
	history []StageRecord

	routerMu sync.Mutex

	ran   atomic.Bool
	ready atomic.Bool
}

// StageRecord describes one executed stage
type StageRecord struct {
	Stage     Stage
	Listeners int
	Default   bool
	Duration  time.Duration
	Err       error
}

// Option configures an Application
type Option func(*Application)

// WithProviders replaces the default providers with the non-nil fields of p
func WithProviders(p Providers) Option {
	return func(a *Application) {
		a.providers = a.providers.merge(p)
	}
}

// WithLogger sets the logger and keeps it after settings are loaded
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) {
		a.Logger = logger
		a.fixedLogger = true
	}
}

// WithSettings replaces the initial settings record
func WithSettings(s *config.Settings) Option {
	return func(a *Application) {
		a.Settings = s
	}
}

// WithTelemetry attaches initialized OpenTelemetry providers. Their tracer
// spans the stages and their Prometheus handler serves /metrics.
func WithTelemetry(p *infrastructure.OTelProviders) Option {
	return func(a *Application) {
		a.Telemetry = p
	}
}

// New creates an application with default settings, empty registries and
// the built-in providers
func New(opts ...Option) *Application {
	a := &Application{
		Settings:    config.Default(),
		Middlewares: NewRegistry[middleware.Func]("middleware"),
		Models:      NewRegistry[any]("model"),
		Actions:     NewRegistry[action.Handler]("action"),
		Router:      chi.NewRouter(),
		Version:     Version,
		providers:   DefaultProviders(),
		listeners:   NewListeners(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		a.Logger = infrastructure.GetLogger()
	}
	if a.Telemetry != nil && a.Telemetry.Tracer != nil {
		a.tracer = a.Telemetry.Tracer
	} else {
		a.tracer = otel.Tracer("idylle/app")
	}

	metrics, err := infrastructure.NewStageMetrics()
	if err != nil {
		a.Logger.Warn("stage metrics unavailable", slog.String("error", err.Error()))
	}
	a.metrics = metrics
	return a
}

// Listeners returns the boot listener registry
func (a *Application) Listeners() *Listeners { return a.listeners }

// On registers l for stage
func (a *Application) On(stage Stage, l Listener) (*Application, error) {
	if _, err := a.listeners.Register(stage, l); err != nil {
		return a, err
	}
	return a, nil
}

// on registers l and keeps the first error for Run to report
func (a *Application) on(stage Stage, l Listener) *Application {
	if _, err := a.On(stage, l); err != nil {
		a.mu.Lock()
		if a.regErr == nil {
			a.regErr = err
		}
		a.mu.Unlock()
	}
	return a
}

// OnDependencies registers fn for init.dependencies
func (a *Application) OnDependencies(fn DependenciesListener) *Application {
	return a.on(StageDependencies, fn)
}

// OnTransport registers fn for init.transport
func (a *Application) OnTransport(fn TransportListener) *Application {
	return a.on(StageTransport, fn)
}

// OnSettings registers fn for init.settings
func (a *Application) OnSettings(fn SettingsListener) *Application {
	return a.on(StageSettings, fn)
}

// OnMiddlewares registers fn for init.middlewares
func (a *Application) OnMiddlewares(fn StateListener) *Application {
	return a.on(StageMiddlewares, fn)
}

// OnModels registers fn for init.models
func (a *Application) OnModels(fn StateListener) *Application {
	return a.on(StageModels, fn)
}

// OnCache registers fn for init.cache
func (a *Application) OnCache(fn StateListener) *Application {
	return a.on(StageCache, fn)
}

// OnActions registers fn for init.actions
func (a *Application) OnActions(fn StateListener) *Application {
	return a.on(StageActions, fn)
}

// OnRoutes registers fn for init.routes
func (a *Application) OnRoutes(fn StateListener) *Application {
	return a.on(StageRoutes, fn)
}

// OnBooting registers fn for booting
func (a *Application) OnBooting(fn StateListener) *Application {
	return a.on(StageBooting, fn)
}

// OnStarted registers fn for started
func (a *Application) OnStarted(fn StateListener) *Application {
	return a.on(StageStarted, fn)
}

// Env returns the action environment. It is the zero Env until
// init.dependencies has run.
func (a *Application) Env() action.Env {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.env
}

func (a *Application) setEnv(env action.Env) {
	a.mu.Lock()
	a.env = env
	a.mu.Unlock()
}

// Cache returns the cache, or nil when none is configured
func (a *Application) Cache() cache.Cache {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache
}

// SetCache installs c as the application cache. Cache listeners call it.
func (a *Application) SetCache(c cache.Cache) {
	a.mu.Lock()
	a.cache = c
	a.mu.Unlock()
}

// WithRouter runs fn with exclusive access to the HTTP router. Listeners
// of the same stage run concurrently and must register routes through it.
func (a *Application) WithRouter(fn func(r chi.Router)) {
	a.routerMu.Lock()
	defer a.routerMu.Unlock()
	fn(a.Router)
}

// Ready reports whether boot completed and the application is serving
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// History returns the stages executed so far
func (a *Application) History() []StageRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]StageRecord(nil), a.history...)
}

// Shutdown stops the transport, disconnects real-time clients and closes
// the cache
func (a *Application) Shutdown(ctx context.Context) error {
	a.ready.Store(false)
	a.Logger.InfoContext(ctx, "shutting down application")

	var errs []error
	if s, ok := a.Transport.(Shutdowner); ok {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("transport: %w", err))
		}
	}
	if a.IO != nil {
		if err := a.IO.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("realtime: %w", err))
		}
	}
	if c := a.Cache(); c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.Logger.ErrorContext(ctx, "shutdown incomplete", slog.String("error", err.Error()))
		return err
	}
	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}
