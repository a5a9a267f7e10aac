package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idylle/internal/action"
	"idylle/internal/cache"
	"idylle/internal/config"
	"idylle/internal/middleware"
	transporthttp "idylle/internal/transport/http"
	"idylle/internal/websocket"
)

// ErrUnknownMiddleware is returned when Settings.Middlewares names a
// middleware that is not registered
var ErrUnknownMiddleware = errors.New("unknown middleware")

// APIPrefix is the HTTP path prefix actions are bound under
const APIPrefix = "/api/"

// Providers are the defaults that run when a stage has no listeners.
// A nil provider makes its stage a no-op.
type Providers struct {
	Settings    func(ctx context.Context, s *config.Settings) error
	Middlewares func(ctx context.Context, a *Application) (map[string]middleware.Func, error)
	Models      func(ctx context.Context, a *Application) (map[string]any, error)
	// Cache receives the cache configuration only
	Cache   func(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (cache.Cache, error)
	Actions func(ctx context.Context, a *Application) (map[string]action.Handler, error)
	Routes  func(ctx context.Context, a *Application) error
	Boot    func(ctx context.Context, a *Application) error
}

// DefaultProviders returns the built-in providers: settings from the
// environment and config file, the built-in middlewares, the configured
// cache driver and the route binder. There are no default models, actions
// or boot work.
func DefaultProviders() Providers {
	return Providers{
		Settings: func(_ context.Context, s *config.Settings) error {
			return config.LoadInto(s)
		},
		Middlewares: func(_ context.Context, a *Application) (map[string]middleware.Func, error) {
			return middleware.Defaults(a.Settings, a.Logger), nil
		},
		Cache:  cache.FromConfig,
		Routes: BindRoutes,
	}
}

func (p Providers) merge(o Providers) Providers {
	if o.Settings != nil {
		p.Settings = o.Settings
	}
	if o.Middlewares != nil {
		p.Middlewares = o.Middlewares
	}
	if o.Models != nil {
		p.Models = o.Models
	}
	if o.Cache != nil {
		p.Cache = o.Cache
	}
	if o.Actions != nil {
		p.Actions = o.Actions
	}
	if o.Routes != nil {
		p.Routes = o.Routes
	}
	if o.Boot != nil {
		p.Boot = o.Boot
	}
	return p
}

// BindRoutes binds every registered action to POST and GET APIPrefix+name
// on the HTTP router and to the event name on the real-time router. HTTP
// actions run behind the middlewares listed in Settings.Middlewares, in
// that order. /health and /metrics are mounted outside that chain.
func BindRoutes(_ context.Context, a *Application) error {
	chain := make([]func(http.Handler) http.Handler, 0, len(a.Settings.Middlewares))
	for _, name := range a.Settings.Middlewares {
		mw, ok := a.Middlewares.Get(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMiddleware, name)
		}
		chain = append(chain, mw)
	}

	env := a.Env()
	health := transporthttp.NewHealthHandler(a.Version, a.healthReport, a.Ready, a.Logger)

	a.WithRouter(func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chain...)
			a.Actions.Each(func(name string, h action.Handler) {
				hf := transporthttp.Dispatch(env, h)
				r.Post(APIPrefix+name, hf)
				r.Get(APIPrefix+name, hf)
				if a.IO != nil {
					a.IO.On(name, websocket.Dispatch(env, h))
				}
			})
		})
		r.Mount("/health", health.Routes())
		r.Handle("/metrics", a.metricsHandler())
	})

	a.Logger.Info("routes bound",
		slog.Int("actions", a.Actions.Len()),
		slog.Any("middlewares", a.Settings.Middlewares))
	return nil
}

func (a *Application) metricsHandler() http.Handler {
	if a.Telemetry != nil && a.Telemetry.PrometheusHTTP != nil {
		return a.Telemetry.PrometheusHTTP
	}
	return promhttp.Handler()
}

func (a *Application) healthReport(_ context.Context) map[string]any {
	components := map[string]any{
		"actions":     a.Actions.Len(),
		"models":      a.Models.Len(),
		"middlewares": a.Middlewares.Len(),
	}
	if a.IO != nil {
		components["realtime"] = a.IO.Hub().Stats()
	}
	if c := a.Cache(); c != nil {
		components["cache"] = c.Stats()
	}
	return components
}
