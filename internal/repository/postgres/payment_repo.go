package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

var _ domain.PaymentRepository = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	notes, err := json.Marshal(p.Notes)
	if err != nil {
		return fmt.Errorf("postgres: marshal payment notes: %w", err)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO payments (organisation_id, invoice_id, gateway_order_id, amount, currency, status, max_retries, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, p.OrganisationID, p.InvoiceID, p.GatewayOrderID, p.Amount, p.Currency, p.Status, p.MaxRetries, notes).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PaymentRepository) GetByInvoice(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE invoice_id = $1 AND status != 'failed' ORDER BY created_at DESC LIMIT 1`, invoiceID)
}

func (r *PaymentRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1 ORDER BY created_at DESC LIMIT 1`, gatewayOrderID)
}

func (r *PaymentRepository) GetByGatewayPaymentIDForUpdate(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1 FOR UPDATE`, gatewayPaymentID)
}

const paymentColumns = `id, organisation_id, invoice_id, gateway_order_id, gateway_payment_id, amount, currency, status, method, retry_count, max_retries, next_retry_at, last_retry_at, paid_at, reconciled_at, created_at, updated_at`

func (r *PaymentRepository) scanOne(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.OrganisationID, &p.InvoiceID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.Amount, &p.Currency, &p.Status, &p.Method,
		&p.RetryCount, &p.MaxRetries, &p.NextRetryAt, &p.LastRetryAt, &p.PaidAt, &p.ReconciledAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("postgres: scan payment: %w", err)
	}
	return p, nil
}

// TransitionAndCoupleInvoice advances a payment and its invoice together inside
// one transaction: the payment's state transition, and, when it reaches
// captured, the linked invoice's finalized -> paid move.
func (r *PaymentRepository) TransitionAndCoupleInvoice(ctx context.Context, paymentID string, next domain.PaymentStatus, gatewayPaymentID string, paidAt *time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: couple begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current domain.PaymentStatus
	var invoiceID string
	if err := tx.QueryRow(ctx, `SELECT status, invoice_id FROM payments WHERE id = $1 FOR UPDATE`, paymentID).Scan(&current, &invoiceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrPaymentNotFound
		}
		return fmt.Errorf("postgres: couple lock payment: %w", err)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("postgres: payment %s %s -> %s: %w", paymentID, current, next, domain.ErrInvalidTransition)
	}

	if next == domain.PaymentFailed {
		// Seed the retry schedule the same way MarkFailed does, so a payment
		// that fails via the gateway webhook is retry-eligible without the
		// retry engine special-casing a never-retried payment.
		if _, err := tx.Exec(ctx, `
			UPDATE payments SET status = $2, gateway_payment_id = NULLIF($3, ''), paid_at = $4,
			       next_retry_at = coalesce(next_retry_at, now() + interval '24 hours'),
			       max_retries = CASE WHEN max_retries > 0 THEN max_retries ELSE 3 END,
			       updated_at = now()
			WHERE id = $1
		`, paymentID, next, gatewayPaymentID, paidAt); err != nil {
			return fmt.Errorf("postgres: couple update payment: %w", err)
		}
	} else if _, err := tx.Exec(ctx, `
		UPDATE payments SET status = $2, gateway_payment_id = NULLIF($3, ''), paid_at = $4, updated_at = now()
		WHERE id = $1
	`, paymentID, next, gatewayPaymentID, paidAt); err != nil {
		return fmt.Errorf("postgres: couple update payment: %w", err)
	}

	if next == domain.PaymentCaptured {
		var invStatus domain.InvoiceStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID).Scan(&invStatus); err != nil {
			return fmt.Errorf("postgres: couple lock invoice: %w", err)
		}
		if invStatus.CanTransition(domain.InvoicePaid) {
			if _, err := tx.Exec(ctx, `UPDATE invoices SET status = 'paid', paid_at = now(), updated_at = now() WHERE id = $1`, invoiceID); err != nil {
				return fmt.Errorf("postgres: couple update invoice paid: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_logs (entity_type, entity_id, actor, action, after)
		VALUES ('payment', $1, 'gateway_webhook', 'transition', jsonb_build_object('status', $2::text))
	`, paymentID, next); err != nil {
		return fmt.Errorf("postgres: couple audit log: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PaymentRepository) ListRetryEligible(ctx context.Context, asOf time.Time) ([]*domain.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = 'failed' AND retry_count < max_retries AND next_retry_at <= $1`, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: list retry eligible: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func scanPayments(rows pgx.Rows) ([]*domain.Payment, error) {
	var out []*domain.Payment
	for rows.Next() {
		p := &domain.Payment{}
		if err := rows.Scan(&p.ID, &p.OrganisationID, &p.InvoiceID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.Amount, &p.Currency, &p.Status, &p.Method,
			&p.RetryCount, &p.MaxRetries, &p.NextRetryAt, &p.LastRetryAt, &p.PaidAt, &p.ReconciledAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payment row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PaymentRepository) ScheduleRetry(ctx context.Context, paymentID string, nextRetryAt time.Time, attempt domain.RetryAttempt) error {
	attemptJSON, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("postgres: marshal retry attempt: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE payments SET retry_count = retry_count + 1, next_retry_at = $2, last_retry_at = now(),
		       retry_history = retry_history || $3::jsonb, gateway_order_id = $4, updated_at = now()
		WHERE id = $1
	`, paymentID, nextRetryAt, attemptJSON, attempt.NewOrderID)
	if err != nil {
		return fmt.Errorf("postgres: schedule retry: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ListStuckPending(ctx context.Context, olderThan time.Duration) ([]*domain.Payment, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = 'pending' AND created_at <= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stuck pending: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

// MarkFailed moves a payment to failed and seeds next_retry_at 24h out (the
// default retry base) so it becomes retry-eligible
// without the retry engine needing to special-case a never-retried payment.
func (r *PaymentRepository) MarkFailed(ctx context.Context, paymentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = 'failed', next_retry_at = now() + interval '24 hours', updated_at = now()
		WHERE id = $1
	`, paymentID)
	if err != nil {
		return fmt.Errorf("postgres: mark failed: %w", err)
	}
	return nil
}

func (r *PaymentRepository) SumRefunded(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT coalesce(sum(amount), 0) FROM refunds WHERE payment_id = $1 AND status = 'processed'
	`, paymentID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum refunded: %w", err)
	}
	return sum, nil
}

func (r *PaymentRepository) ListUpdatedSince(ctx context.Context, since time.Time) ([]*domain.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE updated_at >= $1 ORDER BY updated_at`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list updated since: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (r *PaymentRepository) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE organisation_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, organisationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}
