package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// AdminDualAuthMiddleware accepts either admin JWT or admin api-key
// authentication on the same route, so the config knob "admin api-key or
// admin-user-db mode" can be deployment-selected without
// forking route registration. JWT is tried first when both are configured
// (JWT-then-API-token fallback), repointed at the two admin auth modes.
type AdminDualAuthMiddleware struct {
	jwtAuth    *AdminJWTAuthMiddleware
	apiKeyAuth *AdminAPIKeyAuthMiddleware
}

// NewAdminDualAuthMiddleware creates a new AdminDualAuthMiddleware. Either
// argument may be nil if that mode is disabled for the deployment.
func NewAdminDualAuthMiddleware(jwtAuth *AdminJWTAuthMiddleware, apiKeyAuth *AdminAPIKeyAuthMiddleware) *AdminDualAuthMiddleware {
	return &AdminDualAuthMiddleware{jwtAuth: jwtAuth, apiKeyAuth: apiKeyAuth}
}

// Authenticate tries JWT first (if configured), then admin api-key.
func (m *AdminDualAuthMiddleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorizedError(c, "missing authorization header")
			}

			// A dotted bearer value (three base64 segments) is a JWT; a
			// flat opaque token is an admin api-key.
			parts := strings.SplitN(authHeader, " ", 2)
			looksLikeJWT := len(parts) == 2 && strings.Count(parts[1], ".") == 2

			if looksLikeJWT && m.jwtAuth != nil {
				return m.jwtAuth.Authenticate()(next)(c)
			}
			if m.apiKeyAuth != nil {
				return m.apiKeyAuth.Authenticate()(next)(c)
			}
			if m.jwtAuth != nil {
				return m.jwtAuth.Authenticate()(next)(c)
			}
			return unauthorizedError(c, "no admin authentication mode configured")
		}
	}
}
