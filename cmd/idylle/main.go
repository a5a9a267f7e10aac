package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idylle/internal/action"
	"idylle/internal/app"
	"idylle/internal/infrastructure"
	"idylle/internal/iocontext"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetry, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), infrastructure.GetLogger())
	if err != nil {
		return err
	}

	application := newApplication(telemetry)
	if err := application.Run(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	application.Logger.InfoContext(ctx, "Received signal", slog.String("signal", sig.String()))

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout(application))
	defer stop()

	err = application.Shutdown(shutdownCtx)
	if terr := telemetry.Shutdown(shutdownCtx); terr != nil {
		application.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", terr.Error()))
	}
	return err
}

// newApplication wires the sample actions on top of the default pipeline
func newApplication(telemetry *infrastructure.OTelProviders) *app.Application {
	a := app.New(app.WithTelemetry(telemetry))
	a.OnActions(func(_ context.Context, st *app.Application) error {
		return st.Actions.Register("system.ping", ping)
	})
	return a
}

// ping answers with the server time and the caller's identity
func ping(_ context.Context, _ action.Env, c *iocontext.Context) (any, error) {
	return map[string]any{
		"pong":       true,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"connection": c.ConnectionID(),
		"user":       c.User(),
		"data":       c.Data(),
	}, nil
}

func shutdownTimeout(a *app.Application) time.Duration {
	if d := a.Settings.Server.ShutdownTimeout; d > 0 {
		return d
	}
	return 30 * time.Second
}
