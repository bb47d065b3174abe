package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/docgen"
	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/invoice"
)

// InvoiceHandler serves the admin "invoices list/get/pdf" surface.
type InvoiceHandler struct {
	repo      domain.InvoiceRepository
	generator *invoice.Generator
	docs      *docgen.Service
}

func NewInvoiceHandler(repo domain.InvoiceRepository, generator *invoice.Generator, docs *docgen.Service) *InvoiceHandler {
	return &InvoiceHandler{repo: repo, generator: generator, docs: docs}
}

type invoiceLineResponse struct {
	LineNumber  int    `json:"line_number"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	MetricName  string `json:"metric_name"`
	Unit        string `json:"unit"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

type invoiceResponse struct {
	ID            string                `json:"id"`
	OrganisationID string               `json:"organisation_id"`
	InvoiceNumber string                `json:"invoice_number"`
	Status        string                `json:"status"`
	Subtotal      string                `json:"subtotal"`
	Tax           string                `json:"tax"`
	Discount      string                `json:"discount"`
	Total         string                `json:"total"`
	Currency      string                `json:"currency"`
	Month         int                   `json:"month"`
	Year          int                   `json:"year"`
	DueDate       string                `json:"due_date"`
	PDFURL        string                `json:"pdf_url,omitempty"`
	Lines         []invoiceLineResponse `json:"lines,omitempty"`
}

func toInvoiceResponse(inv *domain.Invoice, lines []*domain.InvoiceLineItem) invoiceResponse {
	out := invoiceResponse{
		ID:             inv.ID,
		OrganisationID: inv.OrganisationID,
		InvoiceNumber:  inv.InvoiceNumber,
		Status:         string(inv.Status),
		Subtotal:       inv.Subtotal.String(),
		Tax:            inv.Tax.String(),
		Discount:       inv.Discount.String(),
		Total:          inv.Total.String(),
		Currency:       inv.Currency,
		Month:          inv.Month,
		Year:           inv.Year,
		DueDate:        inv.DueDate.Format(time.RFC3339),
		PDFURL:         inv.PDFURL,
	}
	for _, l := range lines {
		out.Lines = append(out.Lines, invoiceLineResponse{
			LineNumber:  l.LineNumber,
			Kind:        string(l.Kind),
			Description: l.Description,
			MetricName:  l.MetricName,
			Unit:        l.Unit,
			Quantity:    l.Quantity.String(),
			UnitPrice:   l.UnitPrice.String(),
			Total:       l.Total.String(),
		})
	}
	return out
}

// List serves GET /admin/organisations/:id/invoices.
func (h *InvoiceHandler) List(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	list, err := h.repo.List(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]invoiceResponse, 0, len(list))
	for _, inv := range list {
		out = append(out, toInvoiceResponse(inv, nil))
	}
	return c.JSON(http.StatusOK, out)
}

// Get serves GET /admin/invoices/:id.
func (h *InvoiceHandler) Get(c echo.Context) error {
	inv, lines, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toInvoiceResponse(inv, lines))
}

type generateInvoiceRequest struct {
	OrganisationID string `json:"organisation_id"`
	Month          int    `json:"month"`
	Year           int    `json:"year"`
}

// Generate triggers an ad-hoc generation run outside the monthly schedule, e.g. for
// an operator re-running a failed organisation's invoice.
func (h *InvoiceHandler) Generate(c echo.Context) error {
	var req generateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.OrganisationID == "" || req.Month < 1 || req.Month > 12 || req.Year < 1 {
		return newValidationError(c, "organisation_id, month (1-12), and year are required")
	}

	id, err := h.generator.Generate(c.Request().Context(), req.OrganisationID, req.Month, req.Year)
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"invoice_id": id})
}

// Finalize transitions an invoice from draft to finalized, locking its
// financial fields and period.
func (h *InvoiceHandler) Finalize(c echo.Context) error {
	if err := h.generator.Finalize(c.Request().Context(), c.Param("id")); err != nil {
		return mapDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PDF serves GET /admin/invoices/:id/pdf: renders (if missing) and
// redirects to the object-store URL.
func (h *InvoiceHandler) PDF(c echo.Context) error {
	inv, _, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	if inv.PDFURL != "" {
		return c.Redirect(http.StatusFound, inv.PDFURL)
	}
	if h.docs == nil {
		return newNotFoundError(c, "pdf not yet generated")
	}
	url, err := h.docs.GenerateForInvoice(c.Request().Context(), inv.ID, nil)
	if err != nil {
		return newInternalError(c, err.Error())
	}
	return c.Redirect(http.StatusFound, url)
}
