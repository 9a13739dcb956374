package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitRule defines the limit for a single endpoint path.
type RateLimitRule struct {
	MaxRequests   int
	WindowSeconds int
	Enabled       bool
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint rate limiting. Rules live in the
// rate_limits table and are reloaded periodically; buckets are in-memory and
// per-instance, which is acceptable because the limits guard abuse, not
// fairness accounting.
type RateLimiter struct {
	db      *sql.DB
	mu      sync.RWMutex
	rules   map[string]RateLimitRule
	buckets sync.Map // "ip|endpoint" -> *bucket
	exclude []string // path prefixes excluded from rate limiting
	logger  *slog.Logger
}

// NewRateLimiter creates a rate limiter reading rules from the rate_limits
// table. Paths matching any of excludePrefixes are never limited (health
// checks, event streams). Rules are loaded once; call StartReloader for
// periodic refresh.
func NewRateLimiter(db *sql.DB, excludePrefixes ...string) *RateLimiter {
	rl := &RateLimiter{
		db:      db,
		rules:   map[string]RateLimitRule{},
		exclude: excludePrefixes,
		logger:  slog.Default(),
	}
	rl.reload()
	return rl
}

// StartReloader refreshes rules and garbage-collects expired buckets at the
// given interval until ctx is cancelled.
func (rl *RateLimiter) StartReloader(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.reload()
			rl.gc()
		}
	}
}

func (rl *RateLimiter) reload() {
	rows, err := rl.db.Query(`SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		rl.logger.Warn("shield: rate limit reload failed", "error", err)
		return
	}
	defer rows.Close()

	rules := map[string]RateLimitRule{}
	for rows.Next() {
		var endpoint string
		var rule RateLimitRule
		var enabled int
		if err := rows.Scan(&endpoint, &rule.MaxRequests, &rule.WindowSeconds, &enabled); err != nil {
			rl.logger.Warn("shield: rate limit scan failed", "error", err)
			return
		}
		rule.Enabled = enabled == 1
		rules[endpoint] = rule
	}

	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()
}

func (rl *RateLimiter) gc() {
	now := time.Now()
	rl.buckets.Range(func(key, value any) bool {
		if b := value.(*bucket); now.After(b.resetAt) {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// Middleware enforces the configured limits, answering 429 when exceeded.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		rl.mu.RLock()
		rule, ok := rl.rules[r.URL.Path]
		rl.mu.RUnlock()
		if !ok || !rule.Enabled || rule.MaxRequests <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		key := ip + "|" + r.URL.Path
		now := time.Now()

		v, _ := rl.buckets.LoadOrStore(key, &bucket{
			resetAt: now.Add(time.Duration(rule.WindowSeconds) * time.Second),
		})
		b := v.(*bucket)

		rl.mu.Lock()
		if now.After(b.resetAt) {
			b.count = 0
			b.resetAt = now.Add(time.Duration(rule.WindowSeconds) * time.Second)
		}
		b.count++
		over := b.count > rule.MaxRequests
		rl.mu.Unlock()

		if over {
			rl.logger.Warn("shield: rate limit exceeded", "ip", ip, "endpoint", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", b.resetAt.UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// Trust the nearest proxy hop only.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
