package auth

import (
	"context"

	"github.com/voicecredits/voicecredits/internal/model"
)

type ctxKey struct{}

// ContextWithAuth attaches the verified key to ctx.
func ContextWithAuth(ctx context.Context, auth *model.AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, auth)
}

// AuthFromContext returns the verified key, or nil for anonymous requests.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	auth, _ := ctx.Value(ctxKey{}).(*model.AuthContext)
	return auth
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	if auth := AuthFromContext(ctx); auth != nil {
		return auth.UserID
	}
	return ""
}
