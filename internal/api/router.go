// Package api provides the HTTP API for the rollout control engine.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rampgate/rampgate/internal/api/handler"
	"github.com/rampgate/rampgate/internal/api/middleware"
	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/auth"
	"github.com/rampgate/rampgate/internal/evaluate"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/rollout"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version      string
	BuildTime    string
	Logger       zerolog.Logger
	ServiceName  string
	Metrics      *middleware.Metrics
	JWTService   *auth.JWTService
	FlagService  *flag.Service
	Transitioner *rollout.Transitioner
	Evaluator    *evaluate.Evaluator
	AuditLog     audit.Log
	StoreCheck   handler.ReadinessChecker
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "rampgate-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.StoreCheck)
	flagsHandler := handler.NewFlagsHandler(cfg.FlagService, cfg.Transitioner)
	evaluateHandler := handler.NewEvaluateHandler(cfg.Evaluator)
	auditHandler := handler.NewAuditHandler(cfg.AuditLog)

	// Create auth middleware
	authMiddleware := middleware.Auth(cfg.JWTService)

	// Create rate limit middleware for different endpoint categories
	evaluateRateLimit := middleware.RateLimitByIP(middleware.EvaluateRateLimit) // 1000 req/min
	adminRateLimit := middleware.RateLimitByOperator(middleware.AdminRateLimit) // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		// Evaluation endpoint (public) - the hot path, no auth
		r.With(evaluateRateLimit).Get("/evaluate/{flagId}", evaluateHandler.Evaluate)

		// Flag administration (authenticated) - operator-based rate limiting
		r.Route("/flags", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(adminRateLimit)

			r.Get("/", flagsHandler.ListFlags)
			r.Post("/", flagsHandler.CreateFlag)
			r.Route("/{flagId}", func(r chi.Router) {
				r.Get("/", flagsHandler.GetFlag)
				r.Delete("/", flagsHandler.ArchiveFlag)
				r.Post("/stage", flagsHandler.ChangeStage)
				r.Put("/lists", flagsHandler.UpdateLists)
				r.Get("/audit", auditHandler.QueryTransitions)
			})
		})
	})

	return r
}
