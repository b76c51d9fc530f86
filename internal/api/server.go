package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/bulk-measure/internal/platform/auth"
	"github.com/ehr/bulk-measure/internal/platform/db"
	"github.com/ehr/bulk-measure/internal/platform/middleware"
)

// ServerConfig holds the cross-cutting pieces wired around the handlers.
type ServerConfig struct {
	Logger      zerolog.Logger
	CORSOrigins []string
	BodyLimit   string
	// Auth authenticates requests. When set, patient data routes also
	// require a read scope.
	Auth echo.MiddlewareFunc
	// DB enables GET /health/db when set.
	DB db.Pinger
	// RequestTimeout bounds each request; zero disables it.
	RequestTimeout time.Duration
	// RateLimit applies per client after authentication. A zero rate
	// disables it.
	RateLimit middleware.RateLimitConfig
}

// NewServer builds the echo instance serving h.
func NewServer(h *Handler, sc ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(sc.Logger)

	e.Use(middleware.Recovery(sc.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(sc.Logger))
	e.Use(middleware.SecurityHeaders())
	if len(sc.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: sc.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		}))
	}
	e.Use(middleware.RequestTimeout(sc.RequestTimeout))
	if sc.Auth != nil {
		e.Use(sc.Auth)
	}
	rl := sc.RateLimit
	if rl.KeyFunc == nil {
		rl.KeyFunc = clientKey
	}
	if rl.Skipper == nil {
		rl.Skipper = auth.PublicSkipper
	}
	e.Use(middleware.RateLimit(rl))

	if sc.DB != nil {
		e.GET("/health/db", db.HealthHandler(sc.DB))
	}
	rm := RouteMiddleware{BodyLimit: middleware.BodyLimit(sc.BodyLimit)}
	if sc.Auth != nil {
		rm.RequireRead = auth.RequireRead
	}
	h.RegisterRoutes(e.Group(""), rm)
	return e
}

// clientKey buckets authenticated clients by token subject and anonymous ones
// by address.
func clientKey(c echo.Context) string {
	if sub := auth.SubjectFromContext(c.Request().Context()); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + c.RealIP()
}
