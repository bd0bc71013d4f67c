package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	site := DefaultCORSConfig()
	site.AllowedOrigins = []string{"https://voice.example.com", "*.staging.example.com"}

	tests := []struct {
		name       string
		cfg        CORSConfig
		origin     string
		method     string
		wantStatus int
		wantOrigin string
	}{
		{"no origins configured", DefaultCORSConfig(), "https://voice.example.com", http.MethodGet, http.StatusOK, ""},
		{"exact origin", site, "https://voice.example.com", http.MethodPost, http.StatusOK, "https://voice.example.com"},
		{"origin match ignores case", site, "HTTPS://VOICE.EXAMPLE.COM", http.MethodGet, http.StatusOK, "HTTPS://VOICE.EXAMPLE.COM"},
		{"subdomain pattern", site, "https://pr-12.staging.example.com", http.MethodGet, http.StatusOK, "https://pr-12.staging.example.com"},
		{"pattern needs a subdomain", site, "https://.staging.example.com", http.MethodGet, http.StatusOK, ""},
		{"lookalike domain", site, "https://evilstaging.example.com", http.MethodGet, http.StatusOK, ""},
		{"preflight allowed", site, "https://voice.example.com", http.MethodOptions, http.StatusNoContent, "https://voice.example.com"},
		{"preflight rejected", site, "https://evil.example", http.MethodOptions, http.StatusForbidden, ""},
		{"same origin request", site, "", http.MethodGet, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/session-start/sales", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://voice.example.com"}
	cfg.AllowCredentials = true

	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/usage", nil)
	req.Header.Set("Origin", "https://voice.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	want := map[string]string{
		"Access-Control-Allow-Methods":     "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers":     "Content-Type, Authorization, X-API-Key, X-Request-ID, Accept",
		"Access-Control-Expose-Headers":    "X-Request-ID, Retry-After, X-RateLimit-Remaining, X-RateLimit-Reset",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Max-Age":           "86400",
		"Vary":                             "Origin",
	}
	for name, value := range want {
		if got := rec.Header().Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
}
