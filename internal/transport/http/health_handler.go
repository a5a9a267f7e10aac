package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// HealthReport is the body of GET /health
type HealthReport struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Timestamp  time.Time      `json:"timestamp"`
	Uptime     string         `json:"uptime"`
	Components map[string]any `json:"components,omitempty"`
}

// HealthHandler serves liveness, readiness and a component report
type HealthHandler struct {
	version string
	started time.Time
	report  func(ctx context.Context) map[string]any
	ready   func() bool
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. report and ready may be nil.
func NewHealthHandler(version string, report func(ctx context.Context) map[string]any, ready func() bool, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		version: version,
		started: time.Now(),
		report:  report,
		ready:   ready,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Routes mounts / (report), /live and /ready
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HealthCheck)
	r.Get("/live", h.LivenessCheck)
	r.Get("/ready", h.ReadinessCheck)
	return r
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}
	if h.report != nil {
		report.Components = h.report(r.Context())
	}
	if !h.isReady() {
		report.Status = "starting"
	}
	render.JSON(w, r, report)
}

// LivenessCheck handles GET /health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}

// ReadinessCheck handles GET /health/ready. It answers 503 until boot completes.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.isReady() {
		h.logger.DebugContext(r.Context(), "readiness probe before boot completed")
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "not_ready"})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}

func (h *HealthHandler) isReady() bool {
	return h.ready == nil || h.ready()
}
