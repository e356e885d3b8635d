package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/nfsstream/internal/cli/health"
	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/pkg/blocking"
)

// NewRouter builds the status router.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe (pool accepting work)
//   - GET /metrics - Prometheus exposition
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := &healthHandler{service: cfg.Service, version: cfg.Version, pool: cfg.Pool, started: time.Now()}
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.liveness)
		r.Get("/ready", h.readiness)
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

type healthHandler struct {
	service string
	version string
	pool    *blocking.Pool
	started time.Time
}

func (h *healthHandler) data() *health.Data {
	uptime := time.Since(h.started)
	d := &health.Data{
		Service:   h.service,
		Version:   h.version,
		StartedAt: h.started.UTC().Format(time.RFC3339),
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}
	if h.pool != nil {
		s := h.pool.Stats()
		d.Pool = &health.Pool{
			Workers:   s.Workers,
			Pending:   s.Pending,
			Running:   s.Running,
			Completed: s.Completed,
			Panicked:  s.Panicked,
		}
		if _, err := h.pool.LastError(); err != nil {
			d.Pool.LastError = err.Error()
		}
	}
	return d
}

func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health.Response{
		Status:    health.StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      h.data(),
	})
}

func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil || h.pool.Stopped() {
		writeJSON(w, http.StatusServiceUnavailable, health.Response{
			Status:    health.StatusUnhealthy,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     "blocking pool is not accepting work",
		})
		return
	}
	h.liveness(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		args := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		}
		// Scrapes and probes arrive every few seconds.
		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/health") {
			logger.Debug("Status request completed", args...)
			return
		}
		logger.Info("Status request completed", args...)
	})
}
