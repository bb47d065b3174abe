// Package retry implements the payment retry engine. Eligibility is
// status=failed with retry_count < max_retries and next_retry_at <= now;
// each attempt opens a fresh gateway order and schedules the next attempt
// at last_retry_at + base*2^retry_count, with retry_count counted after the
// attempt, which lands at T0+24h, T0+72h, T0+168h for base=24h when chained
// off each prior attempt.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/money"
	"github.com/ledgerforge/meterbill/internal/payment"
)

const defaultBase = 24 * time.Hour

type Dependencies struct {
	Payments domain.PaymentRepository
	Gateway  payment.Gateway
	Base     time.Duration
}

type Engine struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies, logger zerolog.Logger) *Engine {
	if deps.Base <= 0 {
		deps.Base = defaultBase
	}
	return &Engine{deps: deps, logger: logger.With().Str("component", "retry").Logger()}
}

// Result tallies one scheduler tick's outcome for logging/metrics.
type Result struct {
	Attempted int
	Succeeded int
	Exhausted int
}

// Run retries every eligible failed payment, isolating one payment's error
// from the rest.
func (e *Engine) Run(ctx context.Context, now time.Time) (Result, error) {
	eligible, err := e.deps.Payments.ListRetryEligible(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("retry: list eligible: %w", err)
	}

	var res Result
	for _, p := range eligible {
		res.Attempted++
		if p.RetryCount >= p.MaxRetries {
			res.Exhausted++
			continue
		}
		if err := e.attempt(ctx, p, now); err != nil {
			e.logger.Error().Err(err).Str("payment_id", p.ID).Msg("payment retry attempt failed")
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// RunOne forces an immediate retry attempt for a single failed payment,
// bypassing the next_retry_at eligibility gate, for an operator-triggered
// retry outside the 6-hourly schedule. The max-retries ceiling still applies.
func (e *Engine) RunOne(ctx context.Context, paymentID string, now time.Time) (Result, error) {
	p, err := e.deps.Payments.Get(ctx, paymentID)
	if err != nil {
		return Result{}, fmt.Errorf("retry: get payment: %w", err)
	}
	if p.Status != domain.PaymentFailed {
		return Result{}, &domain.ValidationError{Field: "status", Message: "payment is not failed"}
	}
	if p.RetryCount >= p.MaxRetries {
		return Result{Attempted: 1, Exhausted: 1}, nil
	}
	if err := e.attempt(ctx, p, now); err != nil {
		return Result{Attempted: 1}, err
	}
	return Result{Attempted: 1, Succeeded: 1}, nil
}

func (e *Engine) attempt(ctx context.Context, p *domain.Payment, now time.Time) error {
	attemptNum := p.RetryCount + 1
	order, orderErr := e.deps.Gateway.CreateOrder(ctx, payment.OrderRequest{
		AmountMinorUnits: p.Amount.Shift(money.Scale(p.Currency)).IntPart(),
		Currency:         p.Currency,
		Receipt:          p.InvoiceID,
	})

	history := domain.RetryAttempt{Attempt: attemptNum, At: now, Success: orderErr == nil}
	if orderErr != nil {
		history.Error = orderErr.Error()
	} else {
		history.NewOrderID = order.ID
	}

	// Max retries reached: leave failed with no further scheduling, whether
	// or not this attempt's order creation itself succeeded.
	next := time.Time{}
	if attemptNum < p.MaxRetries {
		next = e.nextRetryAt(p, now)
	}
	if err := e.deps.Payments.ScheduleRetry(ctx, p.ID, next, history); err != nil {
		return fmt.Errorf("retry: schedule next attempt: %w", err)
	}
	return orderErr
}

// nextRetryAt computes now + base*2^(retry_count+1), where retry_count+1 is
// the attempt count after this attempt is recorded and now is the time of
// this attempt (the value ScheduleRetry stores as last_retry_at). For
// base=24h and attempts run when due this produces T0+24h, T0+72h, T0+168h,
// since each next_retry_at is computed relative to the attempt that just
// ran, not relative to T0 directly.
func (e *Engine) nextRetryAt(p *domain.Payment, now time.Time) time.Time {
	backoff := e.deps.Base << uint(p.RetryCount+1)
	return now.Add(backoff)
}
