package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authFixture(requiredScopes ...string) http.Handler {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "creditd",
	}, nil)
	return auth.Middleware(requiredScopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"iss": "creditd",
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authFixture().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected valid token to pass, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
	res := httptest.NewRecorder()
	authFixture().ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsWrongSecret(t *testing.T) {
	token := signToken(t, "other-secret", jwt.MapClaims{
		"iss": "creditd",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authFixture().ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"iss": "creditd",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authFixture().ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", res.Code)
	}
}

func TestAuthenticatorEnforcesScopes(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"iss":   "creditd",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "credit.read",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/credit/poke", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authFixture("credit.admin").ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %d", res.Code)
	}

	token = signToken(t, testSecret, jwt.MapClaims{
		"iss":   "creditd",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "credit.read credit.admin",
	})
	req.Header.Set("Authorization", "Bearer "+token)
	res = httptest.NewRecorder()
	authFixture("credit.admin").ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected matching scope to pass, got %d", res.Code)
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	handler := auth.Middleware("credit.admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected passthrough with auth disabled, got %d", res.Code)
	}
}

func TestRequestIDAssignsAndEchoes(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen == "" {
		t.Fatalf("expected a generated request id")
	}
	if got := res.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("expected response header %q to match context id %q", got, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
	req.Header.Set("X-Request-Id", "client-supplied")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if seen != "client-supplied" {
		t.Fatalf("expected client-supplied id to be kept, got %q", seen)
	}
}
