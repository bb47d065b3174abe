package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/middleware"
)

// ProjectHandler serves the admin "projects CRUD, api-key rotation" surface.
type ProjectHandler struct {
	repo  domain.ProjectRepository
	cache domain.ProjectKeyCache
}

func NewProjectHandler(repo domain.ProjectRepository, cache domain.ProjectKeyCache) *ProjectHandler {
	return &ProjectHandler{repo: repo, cache: cache}
}

type projectResponse struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at"`
}

// projectKeyResponse is returned only once, at creation or rotation time;
// the plaintext key is never persisted or returned again (domain.Project's
// ApiKeyHash doc comment).
type projectKeyResponse struct {
	projectResponse
	APIKey string `json:"api_key"`
}

func toProjectResponse(p *domain.Project) projectResponse {
	return projectResponse{
		ID:             p.ID,
		OrganisationID: p.OrganisationID,
		Name:           p.Name,
		IsActive:       p.IsActive,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

// generateAPIKey returns a 32-byte random key, hex encoded, prefixed so it's
// recognisable in logs/support tickets without revealing entropy.
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mb_" + hex.EncodeToString(buf), nil
}

type createProjectRequest struct {
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
}

func (h *ProjectHandler) Create(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.OrganisationID == "" || req.Name == "" || len(req.Name) > domain.MaxProjectNameLength {
		return newValidationError(c, "organisation_id and name (max 255 chars) are required")
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		return newInternalError(c, "key generation failed")
	}

	proj := &domain.Project{
		ID:             uuid.NewString(),
		OrganisationID: req.OrganisationID,
		Name:           req.Name,
		ApiKeyHash:     middleware.HashAPIKey(rawKey),
		IsActive:       true,
	}
	if err := h.repo.Create(c.Request().Context(), proj); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, projectKeyResponse{projectResponse: toProjectResponse(proj), APIKey: rawKey})
}

func (h *ProjectHandler) Get(c echo.Context) error {
	proj, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toProjectResponse(proj))
}

func (h *ProjectHandler) ListByOrganisation(c echo.Context) error {
	list, err := h.repo.ListByOrganisation(c.Request().Context(), c.QueryParam("organisation_id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]projectResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProjectResponse(p))
	}
	return c.JSON(http.StatusOK, out)
}

type updateProjectRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (h *ProjectHandler) Update(c echo.Context) error {
	proj, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}

	var req updateProjectRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.Name != nil {
		proj.Name = *req.Name
	}
	if req.IsActive != nil {
		proj.IsActive = *req.IsActive
	}

	if err := h.repo.Update(c.Request().Context(), proj); err != nil {
		return mapDomainError(c, err)
	}
	// Deactivation must take effect on the ingest path immediately, not on
	// the cache's natural eventual-consistency window.
	if req.IsActive != nil && !*req.IsActive {
		_ = h.cache.Invalidate(c.Request().Context(), proj.ApiKeyHash)
	}
	return c.JSON(http.StatusOK, toProjectResponse(proj))
}

// RotateAPIKey issues a fresh project api-key, invalidating the old hash's
// cache entry so ingest stops honouring it immediately.
func (h *ProjectHandler) RotateAPIKey(c echo.Context) error {
	proj, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		return newInternalError(c, "key generation failed")
	}
	oldHash := proj.ApiKeyHash
	newHash := middleware.HashAPIKey(rawKey)

	if err := h.repo.RotateAPIKey(c.Request().Context(), proj.ID, newHash); err != nil {
		return mapDomainError(c, err)
	}
	_ = h.cache.Invalidate(c.Request().Context(), oldHash)

	proj.ApiKeyHash = newHash
	return c.JSON(http.StatusOK, projectKeyResponse{projectResponse: toProjectResponse(proj), APIKey: rawKey})
}
