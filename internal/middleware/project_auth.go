package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ProjectAuthMiddleware authenticates the ingest surface via
// project api-key -> (organisation_id, project_id) from a cache that holds
// only hashes. The same bearer-token flow as the admin api-key mode (bearer
// parse, lookup, context injection), repointed at domain.ProjectKeyCache
// instead of an API-token repository.
type ProjectAuthMiddleware struct {
	cache domain.ProjectKeyCache
}

// NewProjectAuthMiddleware creates a new ProjectAuthMiddleware.
func NewProjectAuthMiddleware(cache domain.ProjectKeyCache) *ProjectAuthMiddleware {
	return &ProjectAuthMiddleware{cache: cache}
}

// HashAPIKey is the one-way hash applied to a project api-key before
// lookup or storage; the plaintext key is never persisted or logged
// (domain.Project doc comment).
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Authenticate returns an Echo middleware that resolves a project api-key
// into a domain.AuthContext for the ingest surface (POST /events).
func (m *ProjectAuthMiddleware) Authenticate() echo.MiddlewareFunc {
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
			orgID, projectID, ok, err := m.cache.Lookup(c.Request().Context(), hash)
			if err != nil {
				log.Error().Err(err).Msg("project api-key lookup failed")
				return unauthorizedError(c, "authentication failed")
			}
			if !ok {
				return unauthorizedError(c, "invalid or inactive project api key")
			}

			setAuthContext(c, domain.AuthContext{
				OrganisationID: orgID,
				ProjectID:      projectID,
				IsAPIKeyAuth:   true,
			})

			log.Debug().
				Str("organisation_id", orgID).
				Str("project_id", projectID).
				Msg("project api-key authentication successful")

			return next(c)
		}
	}
}
