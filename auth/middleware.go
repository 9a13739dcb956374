package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type claimsKey struct{}

// Middleware returns an http.Handler middleware that extracts a JWT from the
// session cookie (preferred) or the Authorization Bearer header. If valid,
// the parsed ManagerClaims are injected into the request context.
// Invalid or missing tokens are silently ignored — use RequireManager to enforce.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string

			if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
				tokenStr = c.Value
			}
			if tokenStr == "" {
				if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
					tokenStr = h[7:]
				}
			}
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, tokenStr)
			if err != nil {
				// Clear invalid cookie.
				http.SetCookie(w, &http.Cookie{Name: SessionCookie, MaxAge: -1, Path: "/"})
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the ManagerClaims from the context, or nil if absent.
func GetClaims(ctx context.Context) *ManagerClaims {
	c, _ := ctx.Value(claimsKey{}).(*ManagerClaims)
	return c
}

// WithClaims injects ManagerClaims into a context. Intended for tests and
// internal wiring, not request handling.
func WithClaims(ctx context.Context, c *ManagerClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// RequireManager is middleware that rejects unauthenticated requests with a
// 401 JSON body. Mount it on manager-only routes after Middleware.
func RequireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
