// Package action defines what an action is and the environment it runs in.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"idylle/internal/cache"
	"idylle/internal/criteria"
	"idylle/internal/iocontext"
)

// Handler is a named unit of business logic invoked from HTTP or real-time routes
type Handler func(ctx context.Context, env Env, c *iocontext.Context) (any, error)

// ErrorHandler turns action errors into responses
type ErrorHandler interface {
	// HandleError writes err as an HTTP response
	HandleError(w http.ResponseWriter, r *http.Request, err error)
	// ErrorPayload returns the value sent back in a real-time error frame
	ErrorPayload(ctx context.Context, err error) any
}

// ResponseHandler turns action results into responses
type ResponseHandler interface {
	// Respond writes result as an HTTP response
	Respond(w http.ResponseWriter, r *http.Request, result any)
	// Payload returns the value sent back in a real-time data frame
	Payload(ctx context.Context, result any) any
}

// Env carries the collaborators an action may use. It is a value type;
// the With methods return modified copies.
type Env struct {
	criteria  criteria.Builder
	errors    ErrorHandler
	responses ResponseHandler
	cache     cache.Cache
	logger    *slog.Logger
}

// NewEnv binds the collaborators resolved during boot
func NewEnv(cb criteria.Builder, eh ErrorHandler, rh ResponseHandler, logger *slog.Logger) Env {
	if logger == nil {
		logger = slog.Default()
	}
	return Env{criteria: cb, errors: eh, responses: rh, logger: logger}
}

// Criteria returns the criteria builder
func (e Env) Criteria() criteria.Builder { return e.criteria }

// Errors returns the error handler
func (e Env) Errors() ErrorHandler { return e.errors }

// Responses returns the response handler
func (e Env) Responses() ResponseHandler { return e.responses }

// Cache returns the attached cache, or nil
func (e Env) Cache() cache.Cache { return e.cache }

// Logger returns the environment logger
func (e Env) Logger() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// WithCache returns a copy of e with c attached
func (e Env) WithCache(c cache.Cache) Env {
	e.cache = c
	return e
}

// WithLogger returns a copy of e logging to l
func (e Env) WithLogger(l *slog.Logger) Env {
	e.logger = l
	return e
}

// PanicError wraps a value recovered from a panicking action
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("action panicked: %v", e.Value)
}

// Call runs h and converts a panic into a *PanicError
func Call(ctx context.Context, h Handler, env Env, c *iocontext.Context) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return h(ctx, env, c)
}
