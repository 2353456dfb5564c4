package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"showroom-recorder/internal/platform/logger"
	"showroom-recorder/internal/platform/metrics"
)

const (
	defaultStopTimeout = 45 * time.Second

	// stopRequestLimit bounds POST /sessions/{room}/stop per client IP per minute.
	stopRequestLimit = 10
)

// Handler serves the session status endpoints.
type Handler struct {
	reg         *Registry
	log         *slog.Logger
	metrics     *metrics.Metrics
	stopTimeout time.Duration
}

// NewHandler returns a Handler over reg. m may be nil.
func NewHandler(reg *Registry, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{reg: reg, log: log, metrics: m, stopTimeout: defaultStopTimeout}
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.reg.Len()})
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.Snapshot())
}

// GetSession handles GET /sessions/{room}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	s, ok := h.reg.Get(room)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// StopSession handles POST /sessions/{room}/stop. It drains the running
// capture and responds with its final status. The room's listener starts
// a new capture on its next live check if the broadcast continues.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	s, ok := h.reg.Get(room)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.stopTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		h.log.Error("stop session failed", slog.String("room", room), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("session stopped via api", slog.String("room", room), slog.String("session_id", s.ID()))
	writeJSON(w, http.StatusOK, s.Status())
}

// NewRouter mounts the status endpoints and /metrics.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(h.log))
	r.Use(metrics.RequestMiddleware(h.metrics))

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			h.metrics.Handler(func() { h.metrics.SetActiveSessions(h.reg.Len()) }).ServeHTTP(w, r)
		})
	}
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Route("/{room}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.With(stopRateLimit()).Post("/stop", h.StopSession)
		})
	})
	return r
}

func stopRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		stopRequestLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
