package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package.
// Using a package-private type means only this package can read or write
// these context values — a plain string key could be shadowed by any
// package that happens to know it.
type contextKey string

const (
	userIDKey    contextKey = "userID"
	sessionIDKey contextKey = "sessionID"
)

// SessionHeader is the request header carrying an anonymous session
// identifier. Anonymous principals authenticate with this instead of a JWT.
const SessionHeader = "X-Session-ID"

// Principal extracts the caller's identity claims and stores them in the
// request context:
//
//   - a valid JWT (Authorization: Bearer <jwt>, or the "token" cookie)
//     puts the registered user's ID in the context
//   - an X-Session-ID header puts the anonymous session ID in the context
//
// It never blocks the request — routes that require an identity wrap their
// handlers in RequireIdentity instead. This mirrors the owner-path /
// share-token-path split: share-token reads are reachable with no identity
// at all.
func Principal(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if tokenStr := bearerToken(r); tokenStr != "" {
				if userID, err := tokens.Validate(tokenStr); err == nil {
					ctx = context.WithValue(ctx, userIDKey, userID)
				}
			}

			if sessionID := r.Header.Get(SessionHeader); sessionID != "" {
				ctx = context.WithValue(ctx, sessionIDKey, sessionID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity rejects requests that carry neither a valid JWT nor an
// anonymous session header. It must be mounted after Principal.
func RequireIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hasUser := UserIDFromContext(r.Context())
			_, hasSession := SessionIDFromContext(r.Context())
			if !hasUser && !hasSession {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"authentication required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext retrieves the authenticated registered user's ID.
// Returns ("", false) if no valid JWT was presented.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// SessionIDFromContext retrieves the anonymous session identifier.
// Returns ("", false) if no session header was presented.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// bearerToken reads the JWT from the Authorization header, falling back to
// the "token" HttpOnly cookie set by the login handler.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}
