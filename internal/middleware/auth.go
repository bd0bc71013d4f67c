package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voicecredits/voicecredits/internal/auth"
	"github.com/voicecredits/voicecredits/internal/model"
)

// DefaultMinAuthDuration pads key verification so failures and successes
// take the same time.
const DefaultMinAuthDuration = 200 * time.Millisecond

// KeyStore looks up access keys.
type KeyStore interface {
	GetAccessKeysByPrefix(ctx context.Context, prefix string) ([]*model.AccessKey, error)
	UpdateAccessKeyLastUsed(ctx context.Context, id string) error
}

// AuthCache caches verified keys by auth.CacheKey.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, authCtx *model.AuthContext) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   KeyStore
	Cache  AuthCache
	// MinDuration pads requests that present a key. Zero disables padding.
	MinDuration time.Duration
}

// Authenticate resolves an access key from the request when one is
// presented. Requests without a key pass through anonymously; a presented
// key that does not verify is rejected with 401.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAccessKey(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.MinDuration > 0 {
				start := time.Now()
				defer func() {
					if elapsed := time.Since(start); elapsed < cfg.MinDuration {
						time.Sleep(cfg.MinDuration - elapsed)
					}
				}()
			}

			authCtx, reason := resolveKey(r.Context(), cfg, key)
			if authCtx == nil {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w, r)
				return
			}

			recordUser(r.Context(), authCtx.UserID)
			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that Authenticate did not attach a user to.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserIDFromContext(r.Context()) == "" {
			writeAuthError(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveKey verifies key and returns its auth context, or nil and a
// failure reason.
func resolveKey(ctx context.Context, cfg AuthConfig, key string) (*model.AuthContext, string) {
	parsed, err := auth.ParseAccessKey(key)
	if err != nil {
		return nil, "invalid_format"
	}

	cacheKey := auth.CacheKey(key)
	if cfg.Cache != nil {
		if cached, _ := cfg.Cache.GetAuthContext(ctx, cacheKey); cached != nil {
			return cached, ""
		}
	}

	if cfg.Keys == nil {
		return nil, "unconfigured"
	}

	candidates, err := cfg.Keys.GetAccessKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		cfg.Logger.Error("failed to look up access key",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(ctx)),
		)
		return nil, "lookup_failed"
	}

	// Several keys may share a prefix; verify each.
	var matched *model.AccessKey
	for _, k := range candidates {
		if k.IsRevoked() {
			continue
		}
		ok, err := auth.VerifySecret(key, k.KeyHash)
		if err == nil && ok {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, "invalid_key"
	}

	authCtx := &model.AuthContext{
		KeyID:     matched.ID,
		KeyPrefix: matched.KeyPrefix,
		UserID:    matched.UserID,
	}

	if cfg.Cache != nil {
		if err := cfg.Cache.SetAuthContext(ctx, cacheKey, authCtx); err != nil {
			cfg.Logger.Debug("auth cache write failed", slog.String("error", err.Error()))
		}
	}

	go func(id string) {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := cfg.Keys.UpdateAccessKeyLastUsed(bg, id); err != nil {
			cfg.Logger.Debug("failed to update key last used", slog.String("error", err.Error()))
		}
	}(matched.ID)

	return authCtx, ""
}

// extractAccessKey reads "Authorization: Bearer <key>" or "X-API-Key".
func extractAccessKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeAuthError uses one message for every failure to prevent enumeration.
func writeAuthError(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing access key")
}
