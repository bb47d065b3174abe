package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type RefundRepository struct {
	pool *pgxpool.Pool
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

var _ domain.RefundRepository = (*RefundRepository)(nil)

const refundColumns = `id, payment_id, invoice_id, refund_number, amount, currency, status, refund_type, reason, actor, gateway_refund_id`

func (r *RefundRepository) Create(ctx context.Context, ref *domain.Refund) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO refunds (payment_id, invoice_id, refund_number, amount, currency, status, refund_type, reason, actor, gateway_refund_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, ref.PaymentID, ref.InvoiceID, ref.RefundNumber, ref.Amount, ref.Currency, ref.Status, ref.RefundType, ref.Reason, ref.Actor, ref.GatewayRefundID).Scan(&ref.ID)
}

func (r *RefundRepository) Get(ctx context.Context, id string) (*domain.Refund, error) {
	return r.scanOne(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
}

func (r *RefundRepository) GetByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*domain.Refund, error) {
	return r.scanOne(ctx, `SELECT `+refundColumns+` FROM refunds WHERE gateway_refund_id = $1`, gatewayRefundID)
}

func (r *RefundRepository) scanOne(ctx context.Context, query string, args ...any) (*domain.Refund, error) {
	ref := &domain.Refund{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&ref.ID, &ref.PaymentID, &ref.InvoiceID, &ref.RefundNumber, &ref.Amount, &ref.Currency, &ref.Status, &ref.RefundType, &ref.Reason, &ref.Actor, &ref.GatewayRefundID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRefundNotFound
		}
		return nil, fmt.Errorf("postgres: scan refund: %w", err)
	}
	return ref, nil
}

// SettleAndCouple applies a refund webhook outcome and rolls the linked
// payment/invoice state forward: partially_refunded while
// some amount remains uncaptured-back, refunded (and invoice refunded) once
// the cumulative refunded amount equals the payment amount.
func (r *RefundRepository) SettleAndCouple(ctx context.Context, refundID string, status domain.RefundStatus, gatewayRefundID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: settle begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var paymentID, invoiceID string
	if err := tx.QueryRow(ctx, `SELECT payment_id, invoice_id FROM refunds WHERE id = $1 FOR UPDATE`, refundID).Scan(&paymentID, &invoiceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRefundNotFound
		}
		return fmt.Errorf("postgres: settle lock refund: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE refunds SET status = $2, gateway_refund_id = $3 WHERE id = $1`, refundID, status, gatewayRefundID); err != nil {
		return fmt.Errorf("postgres: settle update refund: %w", err)
	}

	if status != domain.RefundProcessed {
		return tx.Commit(ctx)
	}

	var paymentAmount, refundedTotal decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT amount FROM payments WHERE id = $1 FOR UPDATE`, paymentID).Scan(&paymentAmount); err != nil {
		return fmt.Errorf("postgres: settle lock payment: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT coalesce(sum(amount), 0) FROM refunds WHERE payment_id = $1 AND status = 'processed'`, paymentID).Scan(&refundedTotal); err != nil {
		return fmt.Errorf("postgres: settle sum refunded: %w", err)
	}

	nextPaymentStatus := domain.PaymentPartiallyRefunded
	if refundedTotal.Equal(paymentAmount) {
		nextPaymentStatus = domain.PaymentRefunded
	}
	if _, err := tx.Exec(ctx, `UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`, paymentID, nextPaymentStatus); err != nil {
		return fmt.Errorf("postgres: settle update payment: %w", err)
	}

	if nextPaymentStatus == domain.PaymentRefunded {
		if _, err := tx.Exec(ctx, `UPDATE invoices SET status = 'refunded', updated_at = now() WHERE id = $1`, invoiceID); err != nil {
			return fmt.Errorf("postgres: settle update invoice: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *RefundRepository) ListByPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id = $1 ORDER BY refund_number`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list refunds: %w", err)
	}
	defer rows.Close()

	var out []*domain.Refund
	for rows.Next() {
		ref := &domain.Refund{}
		if err := rows.Scan(&ref.ID, &ref.PaymentID, &ref.InvoiceID, &ref.RefundNumber, &ref.Amount, &ref.Currency, &ref.Status, &ref.RefundType, &ref.Reason, &ref.Actor, &ref.GatewayRefundID); err != nil {
			return nil, fmt.Errorf("postgres: scan refund row: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
