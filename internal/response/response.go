// Package response holds the default way action results are written back.
package response

import (
	"context"
	"net/http"

	"github.com/go-chi/render"
)

// Envelope wraps results when the handler is built WithEnvelope
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Option configures a Handler
type Option func(*Handler)

// WithEnvelope wraps every HTTP result in an Envelope
func WithEnvelope() Option {
	return func(h *Handler) {
		h.envelope = true
	}
}

// WithStatus sets the status used for non-nil results
func WithStatus(status int) Option {
	return func(h *Handler) {
		h.status = status
	}
}

// Handler renders action results as JSON over HTTP and passes them
// through unchanged for real-time frames
type Handler struct {
	status   int
	envelope bool
}

// NewHandler creates the default response handler
func NewHandler(opts ...Option) *Handler {
	h := &Handler{status: http.StatusOK}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Respond writes result as JSON. A nil result without an envelope yields 204.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request, result any) {
	if h.envelope {
		render.Status(r, h.status)
		render.JSON(w, r, Envelope{Success: true, Data: result})
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	render.Status(r, h.status)
	render.JSON(w, r, result)
}

// Payload returns result unchanged
func (h *Handler) Payload(_ context.Context, result any) any {
	return result
}
