package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/snapbooks-app/geticon/internal/cache"
	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/metrics"
)

// IconService resolves requests through the cache.
type IconService interface {
	Resolve(ctx context.Context, request icon.Request) (cache.Entry, error)
	Stats() cache.Stats
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options tunes the HTTP surface.
type Options struct {
	RequestTimeout time.Duration
	Version        string
	Ready          ReadinessCheck
}

// Server wires HTTP handlers to the icon service.
type Server struct {
	router  chi.Router
	icons   IconService
	hasher  icon.Hasher
	opts    Options
	logger  *zap.Logger
	started time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(icons IconService, hasher icon.Hasher, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		icons:   icons,
		hasher:  hasher,
		opts:    opts,
		logger:  logger,
		started: time.Now(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(logger))
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/", s.index)
		r.Get("/img", s.iconImage)
		r.Get("/json", s.iconsJSON)
		r.Get("/url/*", s.legacyRedirect)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type healthResponse struct {
	Status        string      `json:"status"`
	Version       string      `json:"version,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Cache         cache.Stats `json:"cache"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       s.opts.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Cache:         s.icons.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
