package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// CustomClaims contains the custom claims from the admin-JWT issuer.
type CustomClaims struct {
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

// Validate implements validator.CustomClaims
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// AdminProvider resolves an authenticated JWT subject to the admin identity
// and organisation scope the admin surface requires.
type AdminProvider interface {
	GetAdminByAuth0ID(ctx context.Context, auth0ID string) (*domain.AdminUser, error)
}

// AdminJWTAuthMiddleware validates admin JWTs (OIDC, e.g. Auth0) and
// resolves them to a domain.AuthContext scoped to the admin's organisation.
type AdminJWTAuthMiddleware struct {
	validator     *validator.Validator
	adminProvider AdminProvider
}

// NewAdminJWTAuthMiddleware creates a new AdminJWTAuthMiddleware with OIDC configuration.
func NewAdminJWTAuthMiddleware(domainName, audience string, adminProvider AdminProvider) (*AdminJWTAuthMiddleware, error) {
	issuerURL, err := url.Parse("https://" + domainName + "/")
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(func() validator.CustomClaims {
			return &CustomClaims{}
		}),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	return &AdminJWTAuthMiddleware{
		validator:     jwtValidator,
		adminProvider: adminProvider,
	}, nil
}

// ValidateToken validates a raw admin JWT outside the Authorization-header
// flow (the realtime feed receives its token as a query parameter, since
// browsers cannot set headers on WebSocket upgrades) and resolves it to the
// admin user. Returns the permissions carried in the token's custom claims,
// falling back to the admin's stored role.
func (m *AdminJWTAuthMiddleware) ValidateToken(ctx context.Context, token string) (*domain.AdminUser, []string, error) {
	claims, err := m.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	validatedClaims, ok := claims.(*validator.ValidatedClaims)
	if !ok {
		return nil, nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid claims")
	}
	auth0ID := validatedClaims.RegisteredClaims.Subject

	admin, err := m.adminProvider.GetAdminByAuth0ID(ctx, auth0ID)
	if err != nil {
		log.Debug().Err(err).Str("auth0_id", auth0ID).Msg("admin lookup failed")
		return nil, nil, echo.NewHTTPError(http.StatusUnauthorized, "admin not found")
	}

	perms := []string{admin.Role}
	if custom, ok := validatedClaims.CustomClaims.(*CustomClaims); ok && len(custom.Permissions) > 0 {
		perms = custom.Permissions
	}
	return admin, perms, nil
}

// Authenticate returns an Echo middleware that validates admin JWT tokens.
func (m *AdminJWTAuthMiddleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			admin, perms, err := m.ValidateToken(c.Request().Context(), parts[1])
			if err != nil {
				return err
			}

			setAuthContext(c, domain.AuthContext{
				OrganisationID: admin.OrganisationID,
				AdminUserID:    admin.ID,
				AdminEmail:     admin.Email,
				Permissions:    perms,
				IsAdmin:        true,
			})

			return next(c)
		}
	}
}
