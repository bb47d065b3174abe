package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerforge/meterbill/internal/alert"
	"github.com/ledgerforge/meterbill/internal/currency"
	"github.com/ledgerforge/meterbill/internal/docgen"
	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/invoice"
	"github.com/ledgerforge/meterbill/internal/migration"
	"github.com/ledgerforge/meterbill/internal/notify"
	"github.com/ledgerforge/meterbill/internal/obs"
	"github.com/ledgerforge/meterbill/internal/reconciliation"
	"github.com/ledgerforge/meterbill/internal/retry"
)

// NewMigrationJob runs the migration worker synchronously on the scheduler's own
// tick instead of the worker's internal ticker, so every background job
// shares one trigger map instead of two independent clocks.
func NewMigrationJob(w *migration.Worker, metrics *obs.Metrics) Job {
	return Job{
		Name: "migration",
		Spec: SpecMigration,
		Run: func(ctx context.Context) error {
			n, err := w.RunOnce(ctx)
			if metrics != nil {
				metrics.MigrationBatchEvents.Observe(float64(n))
				outcome := "ok"
				if err != nil {
					outcome = "aborted"
				}
				metrics.MigrationRunsTotal.WithLabelValues(outcome).Inc()
			}
			return err
		},
	}
}

// NewHESCleanupJob deletes hot-store rows processed more than retention ago.
func NewHESCleanupJob(store domain.HotEventStore, retention time.Duration, logger zerolog.Logger) Job {
	return Job{
		Name: "hes_cleanup",
		Spec: SpecHESCleanup,
		Run: func(ctx context.Context) error {
			n, err := store.DeleteProcessedOlderThan(ctx, retention)
			if err != nil {
				return fmt.Errorf("hes cleanup: %w", err)
			}
			logger.Info().Int64("deleted", n).Msg("hes cleanup complete")
			return nil
		},
	}
}

// NewReconciliationJob runs all three daily consistency routines,
// logging and continuing past a routine's own failure rather than letting
// one comparison's error suppress the other two.
func NewReconciliationJob(svc *reconciliation.Service, logger zerolog.Logger) Job {
	return Job{
		Name: "reconciliation",
		Spec: SpecReconciliation,
		Run: func(ctx context.Context) error {
			now := time.Now().UTC()
			yesterday := now.AddDate(0, 0, -1)

			if err := svc.RunHotVsDurable(ctx, yesterday); err != nil {
				logger.Error().Err(err).Msg("hot-vs-durable reconciliation failed")
			}
			if err := svc.RunGatewayVsPayments(ctx, now.Add(-7*24*time.Hour)); err != nil {
				logger.Error().Err(err).Msg("gateway-vs-payments reconciliation failed")
			}
			prevMonth, prevYear := previousMonth(now)
			if err := svc.RunAggregateVsEvents(ctx, prevMonth, prevYear); err != nil {
				logger.Error().Err(err).Msg("aggregate-vs-events reconciliation failed")
			}
			return nil
		},
	}
}

// OrganisationLister is the minimal dependency the per-org jobs need; both
// invoice generation and payment reminders iterate every organisation and
// isolate one org's error from the rest.
type OrganisationLister interface {
	List(ctx context.Context, limit, offset int) ([]*domain.Organisation, error)
}

// NewInvoiceGenerationJob generates, finalizes, and renders a PDF for each
// active organisation's invoice for the month that just ended.
func NewInvoiceGenerationJob(orgs OrganisationLister, gen *invoice.Generator, docs *docgen.Service, metrics *obs.Metrics, logger zerolog.Logger) Job {
	return Job{
		Name:    "invoice_generation",
		Spec:    SpecInvoiceGenerate,
		Timeout: time.Hour,
		Run: func(ctx context.Context) error {
			month, year := previousMonth(time.Now().UTC())

			list, err := orgs.List(ctx, 10000, 0)
			if err != nil {
				return fmt.Errorf("invoice generation: list organisations: %w", err)
			}

			for _, org := range list {
				invoiceID, err := gen.Generate(ctx, org.ID, month, year)
				var conflict *domain.ConflictError
				if errors.As(err, &conflict) {
					// Already generated by an earlier run or a concurrent
					// generator; the winner's id is in the conflict.
					if metrics != nil {
						metrics.InvoicesGeneratedTotal.WithLabelValues("existing").Inc()
					}
					continue
				}
				if err != nil {
					if metrics != nil {
						metrics.InvoicesGeneratedTotal.WithLabelValues("failed").Inc()
					}
					logger.Error().Err(err).Str("organisation_id", org.ID).Msg("invoice generation failed")
					continue
				}
				if metrics != nil {
					metrics.InvoicesGeneratedTotal.WithLabelValues("created").Inc()
				}
				if err := gen.Finalize(ctx, invoiceID); err != nil {
					logger.Error().Err(err).Str("organisation_id", org.ID).Str("invoice_id", invoiceID).Msg("invoice finalize failed")
					continue
				}
				if docs != nil {
					if _, err := docs.GenerateForInvoice(ctx, invoiceID, nil); err != nil {
						logger.Error().Err(err).Str("invoice_id", invoiceID).Msg("invoice pdf generation failed")
					}
				}
			}
			return nil
		},
	}
}

// NewPaymentRetryJob fails out stuck-pending payments (the janitor from
// pending-payment TTL) and then runs the backoff
// retry pass, both on the "every 6h" schedule.
func NewPaymentRetryJob(failStuckPending func(ctx context.Context) (int, error), eng *retry.Engine, metrics *obs.Metrics, logger zerolog.Logger) Job {
	return Job{
		Name: "payment_retry",
		Spec: SpecPaymentRetry,
		Run: func(ctx context.Context) error {
			if failStuckPending != nil {
				if n, err := failStuckPending(ctx); err != nil {
					logger.Error().Err(err).Msg("fail stuck pending payments failed")
				} else if n > 0 {
					logger.Info().Int("count", n).Msg("stuck pending payments failed out")
				}
			}
			res, err := eng.Run(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("payment retry: %w", err)
			}
			if metrics != nil {
				metrics.PaymentRetriesTotal.WithLabelValues("succeeded").Add(float64(res.Succeeded))
				metrics.PaymentRetriesTotal.WithLabelValues("exhausted").Add(float64(res.Exhausted))
				metrics.PaymentRetriesTotal.WithLabelValues("failed").Add(float64(res.Attempted - res.Succeeded))
			}
			logger.Info().Int("attempted", res.Attempted).Int("succeeded", res.Succeeded).Int("exhausted", res.Exhausted).Msg("payment retry pass complete")
			return nil
		},
	}
}

// NewAlertEvaluationJob runs the alert engine hourly.
func NewAlertEvaluationJob(eng *alert.Engine, metrics *obs.Metrics, logger zerolog.Logger) Job {
	return Job{
		Name: "alert_evaluation",
		Spec: SpecAlertEvaluate,
		Run: func(ctx context.Context) error {
			res, err := eng.Run(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("alert evaluation: %w", err)
			}
			if metrics != nil {
				metrics.AlertsTriggeredTotal.Add(float64(res.Triggered))
			}
			logger.Info().Int("evaluated", res.Evaluated).Int("triggered", res.Triggered).Msg("alert evaluation complete")
			return nil
		},
	}
}

// InvoiceReminderLister is the minimal invoice-repository slice the
// reminder job needs.
type InvoiceReminderLister interface {
	ListDueForReminder(ctx context.Context, asOf time.Time) ([]*domain.Invoice, error)
}

// NewPaymentReminderJob sends a reminder email for every invoice due or
// overdue, isolating one invoice's failure from the rest.
func NewPaymentReminderJob(invoices InvoiceReminderLister, notifier *notify.Service, recipientFor func(ctx context.Context, organisationID string) (string, bool), logger zerolog.Logger) Job {
	return Job{
		Name: "payment_reminders",
		Spec: SpecPaymentReminder,
		Run: func(ctx context.Context) error {
			due, err := invoices.ListDueForReminder(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("payment reminders: list due invoices: %w", err)
			}

			for _, inv := range due {
				recipient, ok := recipientFor(ctx, inv.OrganisationID)
				if !ok {
					logger.Warn().Str("organisation_id", inv.OrganisationID).Msg("no admin recipient for payment reminder, skipping")
					continue
				}
				err := notifier.Send(ctx, inv.OrganisationID, notify.Message{
					Recipient: recipient,
					Template:  "payment_reminder",
					Subject:   fmt.Sprintf("Invoice %s due %s", inv.InvoiceNumber, inv.DueDate.Format("2006-01-02")),
					Data:      map[string]any{"invoice_id": inv.ID, "total": inv.Total.String(), "currency": inv.Currency},
				})
				if err != nil {
					logger.Error().Err(err).Str("invoice_id", inv.ID).Msg("payment reminder send failed")
				}
			}
			return nil
		},
	}
}

// NewExchangeSyncJob pulls fresh rates for each configured base currency.
// Optional; a nil/empty bases list disables the job (callers
// should not register it in that case).
func NewExchangeSyncJob(svc *currency.Service, bases []string, logger zerolog.Logger) Job {
	return Job{
		Name: "exchange_rate_sync",
		Spec: SpecExchangeSync,
		Run: func(ctx context.Context) error {
			for _, base := range bases {
				if err := svc.Sync(ctx, base); err != nil {
					logger.Error().Err(err).Str("base", base).Msg("exchange rate sync failed")
				}
			}
			return nil
		},
	}
}

func previousMonth(now time.Time) (month, year int) {
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return int(prev.Month()), prev.Year()
}
