// Package middleware is the HTTP auth and rate-limit surface: project
// api-key auth for event ingest, admin JWT/api-key auth for the admin
// surface, and a per-project token-bucket limiter. Each middleware resolves
// the caller into a domain.AuthContext the core consumes.
package middleware

import (
	"context"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/labstack/echo/v4"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// authContextKey is the context key under which the resolved
// domain.AuthContext is stored by every auth middleware in this package.
const authContextKey contextKey = "auth_context"

// setAuthContext stores the resolved AuthContext on the request context.
func setAuthContext(c echo.Context, ac domain.AuthContext) {
	ctx := context.WithValue(c.Request().Context(), authContextKey, ac)
	c.SetRequest(c.Request().WithContext(ctx))
}

// GetAuthContext extracts the domain.AuthContext populated by whichever
// auth middleware ran on this request. Returns the zero value if none ran.
func GetAuthContext(c echo.Context) domain.AuthContext {
	if ac, ok := c.Request().Context().Value(authContextKey).(domain.AuthContext); ok {
		return ac
	}
	return domain.AuthContext{}
}
