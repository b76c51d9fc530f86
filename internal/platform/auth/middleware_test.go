package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Scope: "system/Patient.read system/*.read",
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, path, authHeader string) (bool, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	called := false
	var seen echo.Context
	err := mw(func(c echo.Context) error {
		called = true
		seen = c
		return c.String(http.StatusOK, "ok")
	})(c)
	return called, seen, err
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingOrMalformedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Logger: zerolog.Nop()})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called, _, err := runMiddleware(t, mw, "/patients", tt.header)
			assertUnauthorized(t, err)
			if called {
				t.Error("handler should not be called")
			}
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Logger: zerolog.Nop()})
	tokenStr := createTestToken(t, validClaims("client-123"), testSigningKey)

	called, c, err := runMiddleware(t, mw, "/patients", "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}
	ctx := c.Request().Context()
	if sub := SubjectFromContext(ctx); sub != "client-123" {
		t.Errorf("expected subject client-123, got %s", sub)
	}
	scopes := ScopesFromContext(ctx)
	if len(scopes) != 2 || scopes[0] != "system/Patient.read" {
		t.Errorf("unexpected scopes %v", scopes)
	}
}

func TestJWTMiddleware_RejectedTokens(t *testing.T) {
	expired := validClaims("client-123")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims("client-123")
	wrongIssuer.Issuer = "https://other.example"

	tests := []struct {
		name  string
		token string
	}{
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"wrong key", createTestToken(t, validClaims("client-123"), []byte("another-key"))},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"garbage", "not.a.jwt"},
	}

	mw := JWTMiddleware(JWTConfig{
		SigningKey: testSigningKey,
		Issuer:     "https://auth.example",
		Logger:     zerolog.Nop(),
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runMiddleware(t, mw, "/patients", "Bearer "+tt.token)
			assertUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{
		SigningKey: testSigningKey,
		Logger:     zerolog.Nop(),
		Skipper:    PublicSkipper,
	})

	called, _, err := runMiddleware(t, mw, "/health", "")
	if err != nil || !called {
		t.Errorf("expected /health to bypass auth, err=%v called=%v", err, called)
	}

	_, _, err = runMiddleware(t, mw, "/Patient/:id/$bundle", "")
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	mw := JWTMiddleware(JWTConfig{JWKSURL: srv.URL, HTTPClient: srv.Client(), Logger: zerolog.Nop()})

	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("svc"))
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	for i := 0; i < 2; i++ {
		called, _, err := runMiddleware(t, mw, "/patients", "Bearer "+sign("k1"))
		if err != nil || !called {
			t.Fatalf("expected RS256 token to pass, err=%v", err)
		}
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("expected keys to be cached after one fetch, got %d fetches", n)
	}

	_, _, err = runMiddleware(t, mw, "/patients", "Bearer "+sign("unknown"))
	assertUnauthorized(t, err)

	// HS256 tokens are refused when only JWKS is configured.
	_, _, err = runMiddleware(t, mw, "/patients", "Bearer "+createTestToken(t, validClaims("svc"), testSigningKey))
	assertUnauthorized(t, err)
}

func TestDevAuthMiddleware(t *testing.T) {
	called, c, err := runMiddleware(t, DevAuthMiddleware(), "/patients", "")
	if err != nil || !called {
		t.Fatalf("expected request to pass, err=%v", err)
	}
	if sub := SubjectFromContext(c.Request().Context()); sub != "dev-user" {
		t.Errorf("expected dev-user, got %s", sub)
	}
}

func TestJWTConfig_Enabled(t *testing.T) {
	if (JWTConfig{}).Enabled() {
		t.Error("expected empty config to be disabled")
	}
	if !(JWTConfig{JWKSURL: "https://auth.example/jwks"}).Enabled() {
		t.Error("expected JWKS config to be enabled")
	}
}
