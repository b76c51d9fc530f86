package auth

import "github.com/labstack/echo/v4"

var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// PublicSkipper exempts the health endpoints from authentication.
func PublicSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
