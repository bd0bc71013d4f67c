package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Features reports which optional integrations were configured at startup.
type Features struct {
	Ledger   bool `json:"ledger"`
	Payments bool `json:"payments"`
	Webhooks bool `json:"webhooks"`
	Voice    bool `json:"voice"`
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	db       HealthChecker
	cache    HealthChecker
	features Features
}

// NewHealthHandler creates a new HealthHandler.
// Pass nil for db or cache when the dependency is not configured.
func NewHealthHandler(db, cache HealthChecker, features Features) *HealthHandler {
	return &HealthHandler{
		db:       db,
		cache:    cache,
		features: features,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Features *Features         `json:"features,omitempty"`
}

// Healthz is the liveness endpoint. No dependency checks.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz checks every configured dependency and returns 200 only if all
// are healthy. Unconfigured dependencies do not fail readiness; the
// features they back are disabled instead.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, 2)
	healthy := check(ctx, checks, "postgres", h.db)
	healthy = check(ctx, checks, "redis", h.cache) && healthy

	status := "ok"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	features := h.features
	writeJSON(w, statusCode, HealthResponse{
		Status:   status,
		Checks:   checks,
		Features: &features,
	})
}

func check(ctx context.Context, checks map[string]string, name string, c HealthChecker) bool {
	if c == nil {
		checks[name] = "not configured"
		return true
	}
	if err := c.Ping(ctx); err != nil {
		checks[name] = "error: " + err.Error()
		return false
	}
	checks[name] = "ok"
	return true
}
