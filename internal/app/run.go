package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"idylle/internal/action"
	"idylle/internal/criteria"
	apierrors "idylle/internal/errors"
	"idylle/internal/infrastructure"
	"idylle/internal/response"
	transporthttp "idylle/internal/transport/http"
	"idylle/internal/websocket"
)

// RealtimePath is where the real-time transport is mounted
const RealtimePath = "/ws"

// ErrAlreadyRun is returned by every Run call after the first
var ErrAlreadyRun = errors.New("application already run")

// ErrTransportNoHandler is returned when the adopted transport cannot
// serve the router, so neither the actions nor /ws would be reachable
var ErrTransportNoHandler = errors.New("transport does not accept a handler")

// StageError is the error that aborted the boot sequence
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Run executes the boot sequence once. Stages run strictly in order and the
// first failure stops the sequence; nothing already done is undone.
func (a *Application) Run(ctx context.Context) error {
	if !a.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	a.listeners.close()

	a.mu.Lock()
	regErr := a.regErr
	a.mu.Unlock()
	if regErr != nil {
		return fmt.Errorf("register listener: %w", regErr)
	}

	start := time.Now()
	a.Logger.InfoContext(ctx, "boot started", slog.Int("listeners", a.listeners.Len()))

	for _, stage := range Stages() {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage, Err: err}
		}
		if err := a.runStage(ctx, stage); err != nil {
			a.Logger.ErrorContext(ctx, "boot failed",
				slog.String("stage", stage.String()),
				slog.String("error", err.Error()))
			return err
		}
	}

	a.Logger.InfoContext(ctx, "boot complete",
		slog.Duration("duration", time.Since(start)),
		slog.Int("actions", a.Actions.Len()))
	return nil
}

func (a *Application) runStage(ctx context.Context, stage Stage) error {
	ctx, span := a.tracer.Start(ctx, "boot "+stage.String(),
		trace.WithAttributes(attribute.String("boot.stage", stage.String())))
	defer span.End()

	res := Resolve(a.listeners, stage)
	begin := time.Now()
	err := a.execute(ctx, stage, res)
	elapsed := time.Since(begin)

	a.metrics.Record(ctx, stage.String(), len(res.Listeners()), elapsed, err)
	a.mu.Lock()
	a.history = append(a.history, StageRecord{
		Stage:     stage,
		Listeners: len(res.Listeners()),
		Default:   res.IsDefault(),
		Duration:  elapsed,
		Err:       err,
	})
	a.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Stage: stage, Err: err}
	}

	a.Logger.DebugContext(ctx, "stage complete",
		slog.String("stage", stage.String()),
		slog.Bool("default", res.IsDefault()),
		slog.Int("listeners", len(res.Listeners())),
		slog.Duration("duration", elapsed))
	return nil
}

func (a *Application) execute(ctx context.Context, stage Stage, res Resolution) error {
	switch stage {
	case StageDependencies:
		return a.initDependencies(ctx, res)
	case StageTransport:
		return a.initTransport(ctx, res)
	case StageSettings:
		return a.initSettings(ctx, res)
	case StageStart:
		return a.start(ctx)
	case StageClean:
		a.clean()
		return nil
	}

	if !res.IsDefault() {
		err := a.runState(ctx, res.Listeners())
		if err == nil {
			a.afterState(stage)
		}
		return err
	}

	var err error
	p := a.providers
	switch stage {
	case StageMiddlewares:
		if p.Middlewares != nil {
			err = register(ctx, a, a.Middlewares, p.Middlewares)
		}
	case StageModels:
		if p.Models != nil {
			err = register(ctx, a, a.Models, p.Models)
		}
	case StageCache:
		if p.Cache != nil {
			err = a.loadCache(ctx)
		}
	case StageActions:
		if p.Actions != nil {
			err = register(ctx, a, a.Actions, p.Actions)
		}
	case StageRoutes:
		if p.Routes != nil {
			err = p.Routes(ctx, a)
		}
	case StageBooting:
		if p.Boot != nil {
			err = p.Boot(ctx, a)
		}
	}
	if err == nil {
		a.afterState(stage)
	}
	return err
}

// register stores the provider's entries in r
func register[T any](ctx context.Context, a *Application, r *Registry[T], provide func(context.Context, *Application) (map[string]T, error)) error {
	m, err := provide(ctx, a)
	if err != nil {
		return err
	}
	return r.RegisterAll(m)
}

// afterState runs the follow-up that applies whichever way a state stage
// was resolved
func (a *Application) afterState(stage Stage) {
	switch stage {
	case StageCache:
		if c := a.Cache(); c != nil {
			a.setEnv(a.Env().WithCache(c))
		}
	case StageStarted:
		a.ready.Store(true)
		a.Logger.Info("application started", slog.String("version", a.Version))
	}
}

// runState runs state listeners concurrently. The first error cancels the
// context passed to the others and is returned once all have finished.
func (a *Application) runState(ctx context.Context, ls []Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range ls {
		fn := l.(StateListener)
		g.Go(func() error { return fn(gctx, a) })
	}
	return g.Wait()
}

func (a *Application) initDependencies(ctx context.Context, res Resolution) error {
	var deps Dependencies
	if !res.IsDefault() {
		ls := res.Listeners()
		results := make([]*Dependencies, len(ls))
		g, gctx := errgroup.WithContext(ctx)
		for i, l := range ls {
			fn := l.(DependenciesListener)
			g.Go(func() error {
				d, err := fn(gctx)
				results[i] = d
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		// registration order decides, not completion order
		for _, d := range results {
			if d != nil {
				deps = *d
			}
		}
	}

	if deps.CriteriaBuilder == nil {
		deps.CriteriaBuilder = criteria.NewBuilder()
	}
	if deps.ErrorHandler == nil {
		deps.ErrorHandler = apierrors.NewErrorHandler(a.Logger, false)
	}
	if deps.ResponseHandler == nil {
		deps.ResponseHandler = response.NewHandler()
	}
	a.setEnv(action.NewEnv(deps.CriteriaBuilder, deps.ErrorHandler, deps.ResponseHandler, a.Logger))

	notFound, notAllowed := routeErrors(deps.ErrorHandler)
	a.WithRouter(func(r chi.Router) {
		r.NotFound(notFound)
		r.MethodNotAllowed(notAllowed)
	})
	return nil
}

// routeErrors returns the router's 404 and 405 handlers. Error handlers
// with dedicated responses for them are used as they are.
func routeErrors(eh action.ErrorHandler) (http.HandlerFunc, http.HandlerFunc) {
	if rh, ok := eh.(interface {
		NotFound(w http.ResponseWriter, r *http.Request)
		MethodNotAllowed(w http.ResponseWriter, r *http.Request)
	}); ok {
		return rh.NotFound, rh.MethodNotAllowed
	}
	return func(w http.ResponseWriter, r *http.Request) {
			eh.HandleError(w, r, apierrors.ErrNotFound)
		}, func(w http.ResponseWriter, r *http.Request) {
			eh.HandleError(w, r, apierrors.ErrMethodNotAllowed)
		}
}

func (a *Application) initTransport(ctx context.Context, res Resolution) error {
	var t Transport
	if !res.IsDefault() {
		ls := res.Listeners()
		results := make([]Transport, len(ls))
		g, gctx := errgroup.WithContext(ctx)
		for i, l := range ls {
			fn := l.(TransportListener)
			g.Go(func() error {
				tr, err := fn(gctx)
				results[i] = tr
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, tr := range results {
			if tr != nil {
				t = tr
			}
		}
	}

	// settings are not loaded yet; the default transport reads them at Listen
	if t == nil {
		t = transporthttp.NewServer(&a.Settings.Server, a.Logger)
	}
	hs, ok := t.(HandlerSetter)
	if !ok {
		return fmt.Errorf("%w: %T", ErrTransportNoHandler, t)
	}
	hs.SetHandler(a.Router)
	a.Transport = t

	a.IO = websocket.NewServer(websocket.Options{
		Config: &a.Settings.WebSocket,
		Logger: a.Logger,
		Errors: a.Env().Errors(),
	})
	a.IO.OnError(func(c *websocket.Client, err error) {
		a.Logger.Debug("realtime client error",
			slog.String("client_id", c.ID()),
			slog.String("error", err.Error()))
	})
	a.IO.OnConnectError(func(r *http.Request, err error) {
		a.Logger.DebugContext(r.Context(), "realtime connect error",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
	})
	a.WithRouter(func(r chi.Router) {
		r.Handle(RealtimePath, a.IO)
	})
	return nil
}

func (a *Application) initSettings(ctx context.Context, res Resolution) error {
	if !res.IsDefault() {
		g, gctx := errgroup.WithContext(ctx)
		for _, l := range res.Listeners() {
			fn := l.(SettingsListener)
			g.Go(func() error { return fn(gctx, a.Settings) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else if a.providers.Settings != nil {
		if err := a.providers.Settings(ctx, a.Settings); err != nil {
			return err
		}
	}

	if !a.fixedLogger {
		logger, err := infrastructure.InitializeLogger(a.Settings.Logging)
		if err != nil {
			return fmt.Errorf("configure logger: %w", err)
		}
		a.Logger = logger
	}
	a.setEnv(a.Env().WithLogger(a.Logger))
	return nil
}

// loadCache hands the provider the raw cache configuration, not the state
func (a *Application) loadCache(ctx context.Context) error {
	c, err := a.providers.Cache(ctx, a.Settings.Cache, a.Logger)
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	a.SetCache(c)
	return nil
}

func (a *Application) start(ctx context.Context) error {
	if a.Transport == nil {
		return errors.New("no transport")
	}
	if err := a.Transport.Listen(ctx, a.Settings.Host, a.Settings.Port); err != nil {
		return err
	}
	attrs := []any{slog.String("host", a.Settings.Host), slog.Int("port", a.Settings.Port)}
	if ad, ok := a.Transport.(interface{ Addr() string }); ok {
		attrs = append(attrs, slog.String("addr", ad.Addr()))
	}
	a.Logger.InfoContext(ctx, "transport listening", attrs...)
	return nil
}

func (a *Application) clean() {
	a.listeners.Clear()
	a.Middlewares.freeze()
	a.Models.freeze()
	a.Actions.freeze()
}
