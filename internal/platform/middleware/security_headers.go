package middleware

import (
	"github.com/labstack/echo/v4"
)

// apiSecurityHeaders are set on every response. Bundles carry patient data,
// so responses are never cached and never framed.
var apiSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets the JSON API response headers before the handler runs.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiSecurityHeaders {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
