package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/middleware"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

// RouterConfig holds what the router needs besides the handlers.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig, health *HealthHandler, sessions *SessionHandler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessions.Create)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessions.Get)
				r.Get("/summary", sessions.Summary)
				r.Get("/turns", sessions.Turns)
				r.Post("/turns", sessions.SubmitTurn)
				r.Post("/turns/stream", sessions.StreamTurn)
			})
		})
	})

	return r
}
