package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long a client's bucket is kept after its last request.
	// Defaults to 10 minutes.
	IdleTTL time.Duration
	// KeyFunc identifies the client. Defaults to the real IP.
	KeyFunc func(echo.Context) string
	// Skipper exempts matching requests.
	Skipper func(echo.Context) bool
}

const defaultLimiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one bucket per client key. Buckets idle longer than ttl
// are swept at most once per ttl, on access.
type limiterStore struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(limit rate.Limit, burst int, ttl time.Duration) *limiterStore {
	return &limiterStore{
		entries:   make(map[string]*limiterEntry),
		limit:     limit,
		burst:     burst,
		ttl:       ttl,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.ttl {
		s.sweep(now)
	}
	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *limiterStore) sweep(now time.Time) {
	for key, e := range s.entries {
		if now.Sub(e.lastSeen) >= s.ttl {
			delete(s.entries, key)
		}
	}
	s.lastSweep = now
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimit rejects clients that exceed their bucket with 429 and a
// Retry-After header. A non-positive rate disables limiting.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c echo.Context) string { return c.RealIP() }
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultLimiterIdleTTL
	}
	store := newLimiterStore(rate.Limit(cfg.RequestsPerSecond), cfg.Burst, cfg.IdleTTL)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if cfg.RequestsPerSecond <= 0 {
			return next
		}
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			r := store.get(cfg.KeyFunc(c)).Reserve()
			if delay := r.Delay(); delay > 0 {
				r.Cancel()
				h.Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
