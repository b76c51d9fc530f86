// Package auth validates bearer tokens on the HTTP API.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	SubjectKey contextKey = "subject"
	ScopesKey  contextKey = "scopes"
)

// Claims are the token claims the API reads. Scopes follow the SMART
// "scope" claim, a space separated string.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Scopes splits the scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 validation with a shared secret.
	SigningKey []byte
	// HTTPClient fetches the JWKS document.
	HTTPClient *http.Client
	Logger     zerolog.Logger
	// Skipper bypasses authentication for matching requests.
	Skipper func(echo.Context) bool
}

// Enabled reports whether the config can validate any token.
func (cfg JWTConfig) Enabled() bool {
	return len(cfg.SigningKey) > 0 || cfg.JWKSURL != ""
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache holds RSA keys fetched from a JWKS endpoint for ttl.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	url       string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
	logger    zerolog.Logger
}

func NewJWKSCache(url string, ttl time.Duration, client *http.Client, logger zerolog.Logger) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{
		keys:   make(map[string]*rsa.PublicKey),
		url:    url,
		ttl:    ttl,
		client: client,
		logger: logger,
	}
}

// GetKey returns the key for kid, refetching on a miss or after ttl.
func (c *JWKSCache) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}
	if err := c.fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k)
		if err != nil {
			c.logger.Warn().Err(err).Str("kid", k.Kid).Msg("skipping malformed JWKS key")
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func parseRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

// JWTMiddleware requires a valid bearer token on every request that the
// skipper does not exempt. HS256 is used when a signing key is configured,
// RS256 against the JWKS endpoint otherwise.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc func(ctx context.Context) jwt.Keyfunc
	methods := []string{"RS256"}
	if len(cfg.SigningKey) > 0 {
		methods = []string{"HS256"}
		keyFunc = func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		}
	} else {
		cache := NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL, cfg.HTTPClient, cfg.Logger)
		keyFunc = func(ctx context.Context) jwt.Keyfunc {
			return func(t *jwt.Token) (interface{}, error) {
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("token has no kid header")
				}
				return cache.GetKey(ctx, kid)
			}
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			scheme, tokenStr, ok := strings.Cut(c.Request().Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed bearer token")
			}

			ctx := c.Request().Context()
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyFunc(ctx), opts...)
			if err != nil || !token.Valid {
				cfg.Logger.Debug().Err(err).Msg("rejected bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx = context.WithValue(ctx, SubjectKey, claims.Subject)
			ctx = context.WithValue(ctx, ScopesKey, claims.Scopes())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets every request through as a fixed development
// subject.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), SubjectKey, "dev-user")
			ctx = context.WithValue(ctx, ScopesKey, []string{"system/*.read"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(SubjectKey).(string)
	return sub
}

func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ScopesKey).([]string)
	return scopes
}
