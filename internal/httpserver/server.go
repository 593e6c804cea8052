// Package httpserver wires the ingestion and review APIs behind one
// chi.Router, plus the auth endpoints, health checks, metrics, and the
// served OpenAPI document.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auditeng/compliance/internal/auth"
	"github.com/auditeng/compliance/internal/config"
	"github.com/auditeng/compliance/internal/ratelimit"
	"github.com/auditeng/compliance/pkg/jobbroker"
	"github.com/auditeng/compliance/pkg/objectstore"
	"github.com/auditeng/compliance/pkg/taskstore"
)

// Deps bundles every collaborator the HTTP layer calls through: the
// stores and services built by cmd/api-server.
type Deps struct {
	Store       *taskstore.Store
	ObjectStore *objectstore.Store
	Broker      *jobbroker.Broker
	Auth        *auth.Service
	RateLimiter *ratelimit.Limiter
	Logger      logr.Logger
	Config      *config.Config
}

// New builds the complete router: CORS, request id, recovery, request
// logging, and rate limiting apply globally except for the exempt
// routes (health, openapi); auth-required routes additionally run
// requireAuth.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(d.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.Auth.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: len(d.Config.Auth.CORSOrigins) > 0,
		MaxAge:           300,
	}))
	r.Use(chimw.Timeout(60 * time.Second))

	h := &handlers{deps: d}

	r.Route("/api/health", func(r chi.Router) {
		r.Get("/", h.health)
		r.Get("/live", h.healthLive)
		r.Get("/ready", h.healthReady)
	})
	r.Get("/api/openapi.json", h.openAPI)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(rateLimited(d.RateLimiter, d.Config.RateLimit.Enabled))
		r.Post("/register", h.register)
		r.Post("/login", h.login)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(d.Auth))
		r.Use(rateLimited(d.RateLimiter, d.Config.RateLimit.Enabled))

		r.Post("/api/upload", h.upload)
		r.Get("/api/tasks/{id}", h.getTaskStatus)
		r.Get("/api/tasks/{id}/result", h.getTaskResult)

		r.Get("/api/analyses", h.listAnalyses)
		r.Get("/api/analyses/{id}", h.getAnalysis)
		r.Put("/api/analyses/{id}/approve", h.approveAnalysis)
		r.Put("/api/analyses/{id}/reject", h.rejectAnalysis)
		r.Get("/api/analyses/{id}/audit", h.getAudit)
		r.Get("/api/analyses/{id}/report", h.getReport)
	})

	return r
}

type handlers struct {
	deps Deps
}
