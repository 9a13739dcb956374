package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestGenerateValidateRoundtrip(t *testing.T) {
	claims := &ManagerClaims{ManagerID: "mgr_1", Email: "m@example.com", Role: "manager"}
	token, err := GenerateToken(testSecret, claims, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatal(err)
	}
	if got.ManagerID != "mgr_1" || got.Email != "m@example.com" || got.Role != "manager" {
		t.Fatalf("claims mismatch: %+v", got)
	}
	if got.ExpiresAt == nil || time.Until(got.ExpiresAt.Time) <= 0 {
		t.Fatal("ExpiresAt not set in the future")
	}
}

func TestShortSecretRejected(t *testing.T) {
	_, err := GenerateToken([]byte("short"), &ManagerClaims{ManagerID: "x"}, time.Hour)
	if err != ErrSecretTooShort {
		t.Fatalf("err = %v, want ErrSecretTooShort", err)
	}
}

func TestWrongSecretFails(t *testing.T) {
	token, err := GenerateToken(testSecret, &ManagerClaims{ManagerID: "mgr_1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other := []byte("ffffffffffffffffffffffffffffffff")
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}

func TestExpiredTokenFails(t *testing.T) {
	token, err := GenerateToken(testSecret, &ManagerClaims{ManagerID: "mgr_1"}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(testSecret, token); err == nil {
		t.Fatal("expected validation failure for expired token")
	}
}

func TestAlgorithmPinned(t *testing.T) {
	// A token signed with "none" must be rejected even if otherwise well-formed.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &ManagerClaims{ManagerID: "mgr_1"})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(testSecret, signed); err == nil {
		t.Fatal("expected rejection of alg=none token")
	}
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	token, err := GenerateToken(testSecret, &ManagerClaims{ManagerID: "mgr_1", Role: "manager"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var got *ManagerClaims
	h := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.ManagerID != "mgr_1" {
		t.Fatalf("claims not injected: %+v", got)
	}
}

func TestMiddlewareIgnoresInvalidToken(t *testing.T) {
	var got *ManagerClaims
	h := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "garbage"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != nil {
		t.Fatalf("claims should be nil for invalid token, got %+v", got)
	}
}

func TestRequireManager(t *testing.T) {
	h := RequireManager(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req = req.WithContext(WithClaims(req.Context(), &ManagerClaims{ManagerID: "mgr_1"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
