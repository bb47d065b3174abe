package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/docgen"
	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/middleware"
	"github.com/shopspring/decimal"
)

// AdminKeyHandler serves the admin api-key rotation surface for the
// "admin api-key ... mode" of the dual-auth config.
type AdminKeyHandler struct {
	repo domain.AdminRepository
}

func NewAdminKeyHandler(repo domain.AdminRepository) *AdminKeyHandler {
	return &AdminKeyHandler{repo: repo}
}

type adminAPIKeyResponse struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Label          string `json:"label"`
	CreatedAt      string `json:"created_at"`
	Revoked        bool   `json:"revoked"`
}

func toAdminAPIKeyResponse(k *domain.AdminAPIKey) adminAPIKeyResponse {
	return adminAPIKeyResponse{
		ID:             k.ID,
		OrganisationID: k.OrganisationID,
		Label:          k.Label,
		CreatedAt:      k.CreatedAt.Format(time.RFC3339),
		Revoked:        k.RevokedAt != nil,
	}
}

type createAdminKeyRequest struct {
	OrganisationID string `json:"organisation_id"`
	Label          string `json:"label"`
}

type adminAPIKeyWithSecretResponse struct {
	adminAPIKeyResponse
	APIKey string `json:"api_key"`
}

// Create mints a new admin api-key, returning the plaintext value once.
func (h *AdminKeyHandler) Create(c echo.Context) error {
	var req createAdminKeyRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.OrganisationID == "" {
		return newValidationError(c, "organisation_id is required")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return newInternalError(c, "key generation failed")
	}
	rawKey := "mbadmin_" + hex.EncodeToString(buf)

	key := &domain.AdminAPIKey{
		ID:             uuid.NewString(),
		OrganisationID: req.OrganisationID,
		Label:          req.Label,
		KeyHash:        middleware.HashAPIKey(rawKey),
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.repo.CreateAPIKey(c.Request().Context(), key); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, adminAPIKeyWithSecretResponse{toAdminAPIKeyResponse(key), rawKey})
}

// List serves GET /admin/organisations/:id/admin-keys.
func (h *AdminKeyHandler) List(c echo.Context) error {
	list, err := h.repo.ListAPIKeys(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]adminAPIKeyResponse, 0, len(list))
	for _, k := range list {
		out = append(out, toAdminAPIKeyResponse(k))
	}
	return c.JSON(http.StatusOK, out)
}

// Revoke serves DELETE /admin/admin-keys/:id.
func (h *AdminKeyHandler) Revoke(c echo.Context) error {
	if err := h.repo.RevokeAPIKey(c.Request().Context(), c.Param("id")); err != nil {
		return mapDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// InvoiceTemplateHandler serves the supplemented "invoice templates CRUD +
// preview" surface.
type InvoiceTemplateHandler struct {
	repo domain.InvoiceTemplateRepository
	docs *docgen.Service
}

func NewInvoiceTemplateHandler(repo domain.InvoiceTemplateRepository, docs *docgen.Service) *InvoiceTemplateHandler {
	return &InvoiceTemplateHandler{repo: repo, docs: docs}
}

type invoiceTemplateRequest struct {
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	HeaderText     string `json:"header_text"`
	FooterText     string `json:"footer_text"`
	Locale         string `json:"locale"`
	IsDefault      bool   `json:"is_default"`
}

type invoiceTemplateResponse struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	HeaderText     string `json:"header_text"`
	FooterText     string `json:"footer_text"`
	Locale         string `json:"locale"`
	IsDefault      bool   `json:"is_default"`
}

func toInvoiceTemplateResponse(t *domain.InvoiceTemplate) invoiceTemplateResponse {
	return invoiceTemplateResponse{
		ID:             t.ID,
		OrganisationID: t.OrganisationID,
		Name:           t.Name,
		HeaderText:     t.HeaderText,
		FooterText:     t.FooterText,
		Locale:         t.Locale,
		IsDefault:      t.IsDefault,
	}
}

func (h *InvoiceTemplateHandler) Create(c echo.Context) error {
	var req invoiceTemplateRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.OrganisationID == "" || req.Name == "" {
		return newValidationError(c, "organisation_id and name are required")
	}
	now := time.Now().UTC()
	t := &domain.InvoiceTemplate{
		ID:             uuid.NewString(),
		OrganisationID: req.OrganisationID,
		Name:           req.Name,
		HeaderText:     req.HeaderText,
		FooterText:     req.FooterText,
		Locale:         req.Locale,
		IsDefault:      req.IsDefault,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.repo.Create(c.Request().Context(), t); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, toInvoiceTemplateResponse(t))
}

func (h *InvoiceTemplateHandler) Get(c echo.Context) error {
	t, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toInvoiceTemplateResponse(t))
}

func (h *InvoiceTemplateHandler) ListByOrganisation(c echo.Context) error {
	list, err := h.repo.ListByOrganisation(c.Request().Context(), c.QueryParam("organisation_id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]invoiceTemplateResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toInvoiceTemplateResponse(t))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *InvoiceTemplateHandler) Update(c echo.Context) error {
	t, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	var req invoiceTemplateRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.Name != "" {
		t.Name = req.Name
	}
	t.HeaderText = req.HeaderText
	t.FooterText = req.FooterText
	if req.Locale != "" {
		t.Locale = req.Locale
	}
	t.IsDefault = req.IsDefault
	t.UpdatedAt = time.Now().UTC()
	if err := h.repo.Update(c.Request().Context(), t); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toInvoiceTemplateResponse(t))
}

func (h *InvoiceTemplateHandler) Delete(c echo.Context) error {
	if err := h.repo.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Preview serves POST /admin/invoice-templates/:id/preview: renders the
// template against a synthetic sample line so an admin can check layout
// before it's used on a real invoice.
func (h *InvoiceTemplateHandler) Preview(c echo.Context) error {
	if h.docs == nil {
		return newValidationError(c, "pdf rendering is not configured")
	}
	t, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	sample := []*domain.InvoiceLineItem{{
		LineNumber:  1,
		Kind:        domain.LineItemUsage,
		Description: "sample usage",
		MetricName:  "api_calls",
		Unit:        "count",
		Quantity:    decimal.NewFromInt(1000),
		UnitPrice:   decimal.NewFromFloat(0.001),
		Total:       decimal.NewFromFloat(1.0),
	}}
	pdf, err := h.docs.Preview(c.Request().Context(), t, sample)
	if err != nil {
		return newInternalError(c, err.Error())
	}
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

// EmailNotificationHandler serves the supplemented "email-notifications
// listing" surface.
type EmailNotificationHandler struct {
	repo domain.EmailNotificationRepository
}

func NewEmailNotificationHandler(repo domain.EmailNotificationRepository) *EmailNotificationHandler {
	return &EmailNotificationHandler{repo: repo}
}

type emailNotificationResponse struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Recipient string `json:"recipient"`
	Template  string `json:"template"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	SentAt    string `json:"sent_at"`
}

// List serves GET /admin/organisations/:id/email-notifications.
func (h *EmailNotificationHandler) List(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	list, err := h.repo.ListByOrganisation(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]emailNotificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, emailNotificationResponse{
			ID:        n.ID,
			Provider:  n.Provider,
			Recipient: n.Recipient,
			Template:  n.Template,
			Status:    n.Status,
			Error:     n.Error,
			SentAt:    n.SentAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}
