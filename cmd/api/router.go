package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/voicecredits/voicecredits/internal/config"
	"github.com/voicecredits/voicecredits/internal/middleware"
)

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(a *app, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", a.health.Healthz)
	r.Get("/readyz", a.health.Readyz)
	r.Method("GET", "/metrics", a.recorder.Handler())

	// Root info endpoint
	r.Get("/", a.index.Index)

	authCfg := middleware.AuthConfig{
		Logger:      logger,
		Keys:        a.deps.keys,
		Cache:       a.deps.authCache,
		MinDuration: middleware.DefaultMinAuthDuration,
	}

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: a.deps.limiter,
		Enabled: cfg.RateLimitSessionEnabled,
		RPS:     cfg.RateLimitSessionRPS,
		Burst:   cfg.RateLimitSessionBurst,
	}

	// API v1 routes. Keys are optional; anonymous callers use email or
	// demo identities.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(authCfg))

		r.Get("/agents", a.session.Agents)
		r.With(middleware.RateLimitSession(rateLimitCfg)).
			Post("/session-start/{agentID}", a.session.Start)

		r.With(middleware.RequireAuth).Get("/credits", a.credit.Get)

		r.Route("/usage", func(r chi.Router) {
			r.Get("/", a.credit.ListUsage)
			r.Post("/", a.credit.RecordUsage)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Get("/catalog", a.pay.Catalog)
			r.Post("/checkout", a.pay.Checkout)
			r.Post("/subscribe", a.pay.Subscribe)
			r.With(middleware.RequireAuth).Post("/portal", a.pay.Portal)
			r.Post("/webhook", a.pay.Webhook)
		})
	})

	// 404 and 405 handlers
	r.NotFound(a.index.NotFound)
	r.MethodNotAllowed(a.index.MethodNotAllowed)

	return r
}
