package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// OrganisationHandler serves the admin "organisations ... CRUD" surface.
type OrganisationHandler struct {
	repo domain.OrganisationRepository
}

func NewOrganisationHandler(repo domain.OrganisationRepository) *OrganisationHandler {
	return &OrganisationHandler{repo: repo}
}

type organisationRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type organisationResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toOrganisationResponse(o *domain.Organisation) organisationResponse {
	return organisationResponse{
		ID:        o.ID,
		Name:      o.Name,
		Currency:  o.Currency,
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
		UpdatedAt: o.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *OrganisationHandler) Create(c echo.Context) error {
	var req organisationRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.Name == "" || len(req.Name) > domain.MaxOrganisationNameLength {
		return newValidationError(c, "name is required, max 255 chars")
	}
	if req.Currency == "" {
		return newValidationError(c, "currency is required")
	}

	org := &domain.Organisation{ID: uuid.NewString(), Name: req.Name, Currency: req.Currency}
	if err := h.repo.Create(c.Request().Context(), org); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, toOrganisationResponse(org))
}

func (h *OrganisationHandler) Get(c echo.Context) error {
	org, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toOrganisationResponse(org))
}

func (h *OrganisationHandler) Update(c echo.Context) error {
	org, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}

	var req organisationRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.Name != "" {
		org.Name = req.Name
	}
	if req.Currency != "" {
		org.Currency = req.Currency
	}

	if err := h.repo.Update(c.Request().Context(), org); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toOrganisationResponse(org))
}

func (h *OrganisationHandler) Delete(c echo.Context) error {
	if err := h.repo.SoftDelete(c.Request().Context(), c.Param("id")); err != nil {
		return mapDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *OrganisationHandler) List(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	list, err := h.repo.List(c.Request().Context(), limit, offset)
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]organisationResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOrganisationResponse(o))
	}
	return c.JSON(http.StatusOK, out)
}
