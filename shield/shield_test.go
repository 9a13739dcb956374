package shield

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fieldline/fieldline/dbopen"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got == "" {
		t.Fatal("CSP not set")
	}
}

func TestHeadToGet(t *testing.T) {
	var seenMethod string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenMethod = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/health", nil))
	if seenMethod != http.MethodGet {
		t.Fatalf("method = %q, want GET", seenMethod)
	}
}

func TestMaxJSONBody(t *testing.T) {
	h := MaxJSONBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		if _, err := r.Body.Read(buf); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		 VALUES ('/api/auth/login', 2, 60, 1)`); err != nil {
		t.Fatal(err)
	}

	rl := NewRateLimiter(db, "/health")
	h := rl.Middleware(okHandler())

	send := func(path string) int {
		req := httptest.NewRequest("POST", path, nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if c := send("/api/auth/login"); c != http.StatusOK {
		t.Fatalf("first request = %d", c)
	}
	if c := send("/api/auth/login"); c != http.StatusOK {
		t.Fatalf("second request = %d", c)
	}
	if c := send("/api/auth/login"); c != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", c)
	}

	// Unruled endpoints are not limited.
	for i := 0; i < 5; i++ {
		if c := send("/api/jobs"); c != http.StatusOK {
			t.Fatalf("unruled request = %d", c)
		}
	}
	// Excluded prefixes bypass even explicit rules.
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		 VALUES ('/health', 1, 60, 1)`); err != nil {
		t.Fatal(err)
	}
	rl.reload()
	for i := 0; i < 3; i++ {
		if c := send("/health"); c != http.StatusOK {
			t.Fatalf("excluded request = %d", c)
		}
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		 VALUES ('/api/auth/login', 1, 60, 1)`); err != nil {
		t.Fatal(err)
	}
	rl := NewRateLimiter(db)
	h := rl.Middleware(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest("POST", "/api/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if c := send("203.0.113.7:1"); c != http.StatusOK {
		t.Fatalf("ip1 first = %d", c)
	}
	if c := send("203.0.113.7:2"); c != http.StatusTooManyRequests {
		t.Fatalf("ip1 second = %d, want 429", c)
	}
	// A different IP has its own bucket.
	if c := send("203.0.113.8:1"); c != http.StatusOK {
		t.Fatalf("ip2 first = %d", c)
	}
}
