package middleware

import (
	"strings"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// AdminAPIKeyAuthMiddleware is the alternative admin auth mode named in
// the api-key admin auth mode. Keys are stored hashed; the bearer value is
// hashed and matched against domain.AdminAPIKey rows.
type AdminAPIKeyAuthMiddleware struct {
	repo domain.AdminRepository
}

// NewAdminAPIKeyAuthMiddleware creates a new AdminAPIKeyAuthMiddleware.
func NewAdminAPIKeyAuthMiddleware(repo domain.AdminRepository) *AdminAPIKeyAuthMiddleware {
	return &AdminAPIKeyAuthMiddleware{repo: repo}
}

// Authenticate returns an Echo middleware that validates admin api-keys.
func (m *AdminAPIKeyAuthMiddleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorizedError(c, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return unauthorizedError(c, "invalid authorization header format")
			}
			rawKey := strings.TrimSpace(parts[1])
			if rawKey == "" {
				return unauthorizedError(c, "missing api key")
			}

			hash := HashAPIKey(rawKey)
			key, err := m.repo.GetAPIKeyByHash(c.Request().Context(), hash)
			if err != nil {
				log.Debug().Err(err).Msg("admin api key lookup failed")
				return unauthorizedError(c, "invalid or revoked admin api key")
			}
			if key == nil {
				return unauthorizedError(c, "invalid admin api key")
			}
			if key.RevokedAt != nil {
				return unauthorizedError(c, "admin api key revoked")
			}

			setAuthContext(c, domain.AuthContext{
				OrganisationID: key.OrganisationID,
				AdminUserID:    key.ID,
				Permissions:    []string{"admin"},
				IsAdmin:        true,
			})

			return next(c)
		}
	}
}
