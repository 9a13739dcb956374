// Package shield provides the HTTP hardening middleware for the Fieldline
// API: security headers, request body limits, HEAD handling, and per-IP rate
// limiting with rules stored in SQLite so they can be tuned without a deploy.
//
// Usage:
//
//	rl := shield.NewRateLimiter(db, "/health", "/api/stream/")
//	go rl.StartReloader(ctx, time.Minute)
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(rl) {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"net/http"
)

// Schema defines the SQLite table backing the rate limiter. Idempotent.
// The seeded rows protect the credential endpoint and cap job mutations;
// stream endpoints are excluded by prefix instead (long-lived connections
// are limited by concurrency, not request rate).
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled) VALUES
    ('/api/auth/login', 10, 60, 1);
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// DefaultStack returns the standard Fieldline middleware order:
// HeadToGet → SecurityHeaders → MaxJSONBody → RateLimiter.
func DefaultStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(256 * 1024),
		rl.Middleware,
	}
}
