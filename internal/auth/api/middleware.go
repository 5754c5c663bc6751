package authapi

import (
	"context"
	"net/http"
	"time"

	"plume/internal/auth/session"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserID returns the authenticated identity id RequireAuth stored on the
// request context, or "" when the request did not pass through it.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RequireAuth guards a route with bearer access-token verification.
// Verification is stateless (signature + expiry, no store lookup); the
// identity id lands on the context for the wrapped handler.
func RequireAuth(tokens *session.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := tokens.VerifyAccess(raw, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, claims.UserID)))
	})
}
