package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Scope is a SMART resource scope such as "system/Patient.read" or the v2
// form "system/*.rs".
type Scope struct {
	Context      string // patient, user or system
	ResourceType string // a resource type or "*"
	Read         bool
	Write        bool
}

// ParseScope parses a single resource scope. Non-resource scopes such as
// "openid" or "launch" return an error.
func ParseScope(s string) (Scope, error) {
	ctx, rest, ok := strings.Cut(s, "/")
	if !ok {
		return Scope{}, fmt.Errorf("not a resource scope: %s", s)
	}
	if ctx != "patient" && ctx != "user" && ctx != "system" {
		return Scope{}, fmt.Errorf("invalid scope context %q", ctx)
	}
	dot := strings.LastIndex(rest, ".")
	if dot <= 0 {
		return Scope{}, fmt.Errorf("invalid scope %q: missing resource type or permission", s)
	}

	sc := Scope{Context: ctx, ResourceType: rest[:dot]}
	// v2 permissions may carry a query suffix, e.g. "rs?category=laboratory".
	perm, _, _ := strings.Cut(rest[dot+1:], "?")
	switch perm {
	case "read":
		sc.Read = true
	case "write":
		sc.Write = true
	case "*":
		sc.Read, sc.Write = true, true
	default:
		if perm == "" || strings.Trim(perm, "cruds") != "" {
			return Scope{}, fmt.Errorf("invalid scope permission %q", perm)
		}
		sc.Read = strings.ContainsAny(perm, "rs")
		sc.Write = strings.ContainsAny(perm, "cud")
	}
	return sc, nil
}

// ParseScopes keeps the valid resource scopes in raw.
func ParseScopes(raw []string) []Scope {
	var out []Scope
	for _, s := range raw {
		if sc, err := ParseScope(s); err == nil {
			out = append(out, sc)
		}
	}
	return out
}

// AllowsRead reports whether any scope grants read access to resourceType.
// Requesting "*" is only satisfied by a wildcard scope.
func AllowsRead(scopes []Scope, resourceType string) bool {
	for _, s := range scopes {
		if s.Read && (s.ResourceType == "*" || s.ResourceType == resourceType) {
			return true
		}
	}
	return false
}

// RequireRead rejects requests whose token scopes do not grant read access to
// resourceType.
func RequireRead(resourceType string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scopes := ParseScopes(ScopesFromContext(c.Request().Context()))
			if !AllowsRead(scopes, resourceType) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("insufficient scope: %s.read required", resourceType))
			}
			return next(c)
		}
	}
}
