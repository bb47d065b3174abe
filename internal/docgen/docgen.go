// Package docgen handles the invoice PDF side-effect: rendering a
// finalized invoice to HTML, handing it to an external renderer for a PDF,
// and storing the result behind the ObjectStore capability interface
// rather than a concrete S3 type.
package docgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// Renderer is the out-of-scope external collaborator that turns HTML into
// PDF bytes.
type Renderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// ObjectStore is the out-of-scope object store capability.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
}

type Dependencies struct {
	Renderer    Renderer
	ObjectStore ObjectStore
	Invoices    domain.InvoiceRepository
	Templates   domain.InvoiceTemplateRepository
}

type Service struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies, logger zerolog.Logger) *Service {
	return &Service{deps: deps, logger: logger.With().Str("component", "docgen").Logger()}
}

// GenerateForInvoice renders the given invoice's PDF, stores it, and
// records the resulting URL on the invoice row. Called by the scheduled
// invoice-generation job after finalisation (and by the invoice handler on
// demand), outside the financial-persist transaction
// so a rendering failure never rolls back an invoice.
func (s *Service) GenerateForInvoice(ctx context.Context, invoiceID string, template *domain.InvoiceTemplate) (string, error) {
	inv, lines, err := s.deps.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("docgen: load invoice: %w", err)
	}

	html := RenderInvoiceHTML(inv, lines, template)
	pdf, err := s.deps.Renderer.RenderHTML(ctx, html)
	if err != nil {
		return "", fmt.Errorf("docgen: render pdf: %w", err)
	}

	key := fmt.Sprintf("invoices/%s/%s.pdf", inv.OrganisationID, inv.InvoiceNumber)
	url, err := s.deps.ObjectStore.Put(ctx, key, pdf, "application/pdf")
	if err != nil {
		return "", fmt.Errorf("docgen: store pdf: %w", err)
	}

	if err := s.deps.Invoices.SetPDFURL(ctx, invoiceID, url); err != nil {
		return "", fmt.Errorf("docgen: record pdf url: %w", err)
	}
	return url, nil
}

// Preview renders a template against a synthetic set of line items without
// persisting anything, backing the admin "invoice templates ... preview"
// surface. It never touches ObjectStore or Invoices.
func (s *Service) Preview(ctx context.Context, template *domain.InvoiceTemplate, sample []*domain.InvoiceLineItem) ([]byte, error) {
	inv := &domain.Invoice{
		InvoiceNumber: "PREVIEW",
		Currency:      "INR",
		Subtotal:      sumTotals(sample),
		Total:         sumTotals(sample),
	}
	html := RenderInvoiceHTML(inv, sample, template)
	return s.deps.Renderer.RenderHTML(ctx, html)
}

func sumTotals(lines []*domain.InvoiceLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total)
	}
	return total
}

// RenderInvoiceHTML builds the HTML document handed to the external
// renderer. Kept deliberately simple: table of line items plus totals,
// wrapped in the template's header/footer text when one is supplied.
func RenderInvoiceHTML(inv *domain.Invoice, lines []*domain.InvoiceLineItem, template *domain.InvoiceTemplate) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if template != nil && template.HeaderText != "" {
		fmt.Fprintf(&b, "<header>%s</header>", template.HeaderText)
	}
	fmt.Fprintf(&b, "<h1>Invoice %s</h1><table>", inv.InvoiceNumber)
	for _, l := range lines {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			l.Description, l.Quantity.String(), l.UnitPrice.String(), l.Total.String())
	}
	fmt.Fprintf(&b, "</table><p>Subtotal: %s %s</p><p>Tax: %s</p><p>Total: %s %s</p>",
		inv.Subtotal.String(), inv.Currency, inv.Tax.String(), inv.Total.String(), inv.Currency)
	if template != nil && template.FooterText != "" {
		fmt.Fprintf(&b, "<footer>%s</footer>", template.FooterText)
	}
	b.WriteString("</body></html>")
	return b.String()
}
