package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type InvoiceRepository struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

var _ domain.InvoiceRepository = (*InvoiceRepository)(nil)

// InsertDraft inserts the invoice, its line items, and an audit log row in
// one transaction. On a (organisation_id, month, year)
// conflict among non-cancelled invoices it reports the existing id via
// ErrAlreadyExists so the caller resolves it through the idempotency registry.
func (r *InvoiceRepository) InsertDraft(ctx context.Context, inv *domain.Invoice, lines []*domain.InvoiceLineItem, auditActor string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: insert draft begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM invoices
		WHERE organisation_id = $1 AND month = $2 AND year = $3 AND status != 'cancelled'
		FOR UPDATE
	`, inv.OrganisationID, inv.Month, inv.Year).Scan(&existingID)
	if err == nil {
		return &domain.ConflictError{EntityType: "invoice", EntityID: existingID}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: check existing invoice: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (organisation_id, invoice_number, status, subtotal, tax, discount, total, currency, month, year, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, inv.OrganisationID, inv.InvoiceNumber, inv.Status, inv.Subtotal, inv.Tax, inv.Discount, inv.Total, inv.Currency, inv.Month, inv.Year, inv.DueDate,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert invoice: %w", err)
	}

	for i, line := range lines {
		line.InvoiceID = inv.ID
		line.LineNumber = i + 1
		err = tx.QueryRow(ctx, `
			INSERT INTO invoice_line_items (invoice_id, line_number, kind, description, metric_name, unit, quantity, unit_price, total, original_currency, original_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, line.InvoiceID, line.LineNumber, line.Kind, line.Description, line.MetricName, line.Unit, line.Quantity, line.UnitPrice, line.Total, line.OriginalCurrency, line.OriginalTotal,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("postgres: insert line item %d: %w", line.LineNumber, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_logs (entity_type, entity_id, actor, action, after)
		VALUES ('invoice', $1, $2, 'created', jsonb_build_object('status', $3, 'total', $4::text))
	`, inv.ID, auditActor, inv.Status, inv.Total.String()); err != nil {
		return fmt.Errorf("postgres: audit log invoice insert: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *InvoiceRepository) Get(ctx context.Context, id string) (*domain.Invoice, []*domain.InvoiceLineItem, error) {
	inv := &domain.Invoice{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, invoice_number, status, subtotal, tax, discount, total, currency, month, year, due_date, issued_at, paid_at, pdf_url, created_at, updated_at
		FROM invoices WHERE id = $1
	`, id).Scan(&inv.ID, &inv.OrganisationID, &inv.InvoiceNumber, &inv.Status, &inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total, &inv.Currency,
		&inv.Month, &inv.Year, &inv.DueDate, &inv.IssuedAt, &inv.PaidAt, &inv.PDFURL, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrInvoiceNotFound
		}
		return nil, nil, fmt.Errorf("postgres: get invoice: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, line_number, kind, description, metric_name, unit, quantity, unit_price, total, original_currency, original_total
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY line_number
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: list line items: %w", err)
	}
	defer rows.Close()

	var lines []*domain.InvoiceLineItem
	for rows.Next() {
		l := &domain.InvoiceLineItem{}
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineNumber, &l.Kind, &l.Description, &l.MetricName, &l.Unit, &l.Quantity, &l.UnitPrice, &l.Total, &l.OriginalCurrency, &l.OriginalTotal); err != nil {
			return nil, nil, fmt.Errorf("postgres: scan line item: %w", err)
		}
		lines = append(lines, l)
	}
	return inv, lines, rows.Err()
}

func (r *InvoiceRepository) GetByPeriod(ctx context.Context, organisationID string, month, year int) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organisation_id, invoice_number, status, subtotal, tax, discount, total, currency, month, year, due_date, issued_at, paid_at, pdf_url, created_at, updated_at
		FROM invoices WHERE organisation_id = $1 AND month = $2 AND year = $3 AND status != 'cancelled'
	`, organisationID, month, year).Scan(&inv.ID, &inv.OrganisationID, &inv.InvoiceNumber, &inv.Status, &inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total,
		&inv.Currency, &inv.Month, &inv.Year, &inv.DueDate, &inv.IssuedAt, &inv.PaidAt, &inv.PDFURL, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("postgres: get invoice by period: %w", err)
	}
	return inv, nil
}

// Finalize freezes financial fields by moving status to finalized; a DS
// trigger (see migrations) additionally rejects any later UPDATE that
// touches subtotal/tax/total/month/year once status is past draft.
func (r *InvoiceRepository) Finalize(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices SET status = 'finalized', issued_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'draft'
	`, id)
	if err != nil {
		return fmt.Errorf("postgres: finalize invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finalize invoice %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

func (r *InvoiceRepository) TransitionStatus(ctx context.Context, id string, next domain.InvoiceStatus) error {
	var current domain.InvoiceStatus
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: transition begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInvoiceNotFound
		}
		return fmt.Errorf("postgres: transition lock: %w", err)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("postgres: invoice %s %s -> %s: %w", id, current, next, domain.ErrInvalidTransition)
	}

	var paidAtClause string
	if next == domain.InvoicePaid {
		paidAtClause = ", paid_at = now()"
	}
	if _, err := tx.Exec(ctx, `UPDATE invoices SET status = $2, updated_at = now()`+paidAtClause+` WHERE id = $1`, id, next); err != nil {
		return fmt.Errorf("postgres: transition update: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *InvoiceRepository) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, invoice_number, status, subtotal, tax, discount, total, currency, month, year, due_date, issued_at, paid_at, pdf_url, created_at, updated_at
		FROM invoices WHERE organisation_id = $1 ORDER BY year DESC, month DESC LIMIT $2 OFFSET $3
	`, organisationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list invoices: %w", err)
	}
	defer rows.Close()

	var out []*domain.Invoice
	for rows.Next() {
		inv := &domain.Invoice{}
		if err := rows.Scan(&inv.ID, &inv.OrganisationID, &inv.InvoiceNumber, &inv.Status, &inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total,
			&inv.Currency, &inv.Month, &inv.Year, &inv.DueDate, &inv.IssuedAt, &inv.PaidAt, &inv.PDFURL, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SetPDFURL records the object-store location of the rendered invoice PDF.
// Not gated by the finalisation transition guard: pdf_url is a delivery
// artefact, not a financial field.
func (r *InvoiceRepository) SetPDFURL(ctx context.Context, id string, url string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET pdf_url = $2, updated_at = now() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("postgres: set pdf url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

func (r *InvoiceRepository) ListDueForReminder(ctx context.Context, asOf time.Time) ([]*domain.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, invoice_number, status, subtotal, tax, discount, total, currency, month, year, due_date, issued_at, paid_at, pdf_url, created_at, updated_at
		FROM invoices WHERE status IN ('finalized', 'sent', 'overdue') AND due_date <= $1
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due invoices: %w", err)
	}
	defer rows.Close()

	var out []*domain.Invoice
	for rows.Next() {
		inv := &domain.Invoice{}
		if err := rows.Scan(&inv.ID, &inv.OrganisationID, &inv.InvoiceNumber, &inv.Status, &inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total,
			&inv.Currency, &inv.Month, &inv.Year, &inv.DueDate, &inv.IssuedAt, &inv.PaidAt, &inv.PDFURL, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan due invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
