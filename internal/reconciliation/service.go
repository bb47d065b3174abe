// Package reconciliation implements the three daily consistency routines:
// hot-vs-durable event counts, gateway-vs-durable payment state, and
// aggregate-vs-event recomputation. Items are isolated (one bad row never
// aborts the batch) and a gateway state fetch failure is recorded as a
// discrepancy, not a crash.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/payment"
)

// OrgProjectMetricKey identifies one (org, project, metric) combination the
// hot-vs-durable and aggregate-vs-event routines iterate over.
type OrgProjectMetricKey struct {
	OrganisationID string
	ProjectID      string
	MetricName     string
	Unit           string
}

type Dependencies struct {
	Reconciliation domain.ReconciliationRepository
	HotStore       domain.HotEventStore
	Events         domain.UsageEventRepository
	Aggregates     domain.UsageAggregateRepository
	Payments       domain.PaymentRepository
	Gateway        payment.Gateway
	Alerter        func(ctx context.Context, scope domain.ReconciliationScope, row *domain.ReconciliationRow)
	// Keys enumerates the (org, project, metric, unit) combinations the
	// hot-vs-durable and aggregate-vs-event routines check; populated by the
	// caller from the distinct keys of existing aggregate rows, since
	// reconciliation has no independent
	// way to discover which combinations exist.
	Keys func(ctx context.Context) ([]OrgProjectMetricKey, error)
}

type Service struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies, logger zerolog.Logger) *Service {
	return &Service{deps: deps, logger: logger.With().Str("component", "reconciliation").Logger()}
}

// RunHotVsDurable compares HES and DS event counts per (org, project,
// metric) for the given day, recording a row per key and alerting on any
// non-zero discrepancy.
func (s *Service) RunHotVsDurable(ctx context.Context, day time.Time) error {
	keys, err := s.deps.Keys(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation: load keys: %w", err)
	}

	for _, k := range keys {
		hotCount, err := s.deps.HotStore.CountByDay(ctx, k.OrganisationID, k.ProjectID, k.MetricName, day)
		if err != nil {
			s.logger.Error().Err(err).Str("org", k.OrganisationID).Str("project", k.ProjectID).Msg("hot count failed")
			continue
		}
		durableCount, err := s.deps.Events.CountByDay(ctx, k.OrganisationID, k.ProjectID, k.MetricName, day)
		if err != nil {
			s.logger.Error().Err(err).Str("org", k.OrganisationID).Str("project", k.ProjectID).Msg("durable count failed")
			continue
		}

		discrepancy := abs(hotCount - durableCount)
		row := &domain.ReconciliationRow{
			RunAt:            time.Now().UTC(),
			Scope:            domain.ScopeHotVsDurable,
			SubjectKey:       fmt.Sprintf("%s/%s/%s/%s", k.OrganisationID, k.ProjectID, k.MetricName, day.Format("2006-01-02")),
			LeftCount:        hotCount,
			RightCount:       durableCount,
			DiscrepancyCount: discrepancy,
			Status:           statusFor(discrepancy),
		}
		if err := s.deps.Reconciliation.Record(ctx, row); err != nil {
			return fmt.Errorf("reconciliation: record hot_vs_durable: %w", err)
		}
		if discrepancy != 0 {
			s.alert(ctx, row)
		}
	}
	return nil
}

// RunGatewayVsPayments fetches gateway state for every payment updated
// since the window start; a mismatched status is a discrepancy, and a
// failed gateway state fetch records an unreconciled row for manual
// operator action. Only local payments with a gateway payment id are
// checked: a payment that exists at the gateway with no local row is not
// detected.
func (s *Service) RunGatewayVsPayments(ctx context.Context, since time.Time) error {
	fetcher, ok := s.deps.Gateway.(payment.StateFetcher)
	if !ok {
		s.logger.Info().Msg("gateway does not implement StateFetcher, skipping gateway reconciliation")
		return nil
	}

	payments, err := s.deps.Payments.ListUpdatedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("reconciliation: list payments: %w", err)
	}

	for _, p := range payments {
		if p.GatewayPaymentID == "" {
			continue
		}
		state, err := fetcher.GetPaymentState(ctx, p.GatewayPaymentID)
		if err != nil {
			row := &domain.ReconciliationRow{
				RunAt:            time.Now().UTC(),
				Scope:            domain.ScopeGatewayVsPayment,
				SubjectKey:       p.ID,
				DiscrepancyCount: 1,
				Status:           domain.ReconciliationUnreconciled,
				Details:          map[string]any{"error": err.Error()},
			}
			if recErr := s.deps.Reconciliation.Record(ctx, row); recErr != nil {
				return fmt.Errorf("reconciliation: record gateway_vs_payment: %w", recErr)
			}
			s.alert(ctx, row)
			continue
		}

		mismatch := state.Status != string(p.Status)
		row := &domain.ReconciliationRow{
			RunAt:      time.Now().UTC(),
			Scope:      domain.ScopeGatewayVsPayment,
			SubjectKey: p.ID,
			Status:     domain.ReconciliationClean,
			Details:    map[string]any{"local_status": string(p.Status), "gateway_status": state.Status},
		}
		if mismatch {
			row.DiscrepancyCount = 1
			row.Status = domain.ReconciliationDiscrepant
		}
		if err := s.deps.Reconciliation.Record(ctx, row); err != nil {
			return fmt.Errorf("reconciliation: record gateway_vs_payment: %w", err)
		}
		if mismatch {
			s.alert(ctx, row)
		}
	}
	return nil
}

// RunAggregateVsEvents recomputes each aggregate from durable events and
// compares it to the stored value; a discrepancy triggers a Replace
// recompute plus an alert.
func (s *Service) RunAggregateVsEvents(ctx context.Context, month, year int) error {
	keys, err := s.deps.Keys(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation: load keys: %w", err)
	}

	for _, k := range keys {
		stored, err := s.deps.Aggregates.Get(ctx, k.OrganisationID, k.ProjectID, k.MetricName, k.Unit, month, year)
		if err != nil {
			s.logger.Error().Err(err).Str("org", k.OrganisationID).Msg("load stored aggregate failed")
			continue
		}

		events, err := s.deps.Events.ListForAggregateRebuild(ctx, k.OrganisationID, k.ProjectID, k.MetricName, k.Unit, month, year)
		if err != nil {
			s.logger.Error().Err(err).Str("org", k.OrganisationID).Msg("rebuild scan failed")
			continue
		}

		recomputed := decimal.Zero
		for _, e := range events {
			recomputed = recomputed.Add(e.MetricValue)
		}
		recomputedCount := int64(len(events))

		storedTotal, storedCount := decimal.Zero, int64(0)
		if stored != nil {
			storedTotal, storedCount = stored.TotalValue, stored.EventCount
		}

		discrepant := !storedTotal.Equal(recomputed) || storedCount != recomputedCount
		row := &domain.ReconciliationRow{
			RunAt:      time.Now().UTC(),
			Scope:      domain.ScopeAggregateVsEvent,
			SubjectKey: fmt.Sprintf("%s/%s/%s/%s/%d-%02d", k.OrganisationID, k.ProjectID, k.MetricName, k.Unit, year, month),
			LeftCount:  storedCount,
			RightCount: recomputedCount,
			Status:     domain.ReconciliationClean,
			Details:    map[string]any{"stored_total": storedTotal.String(), "recomputed_total": recomputed.String()},
		}
		if discrepant {
			row.DiscrepancyCount = 1
			row.Status = domain.ReconciliationDiscrepant
			if err := s.deps.Aggregates.Replace(ctx, &domain.UsageAggregate{
				OrganisationID: k.OrganisationID, ProjectID: k.ProjectID, MetricName: k.MetricName, Unit: k.Unit,
				Month: month, Year: year, TotalValue: recomputed, EventCount: recomputedCount,
			}); err != nil {
				return fmt.Errorf("reconciliation: replace aggregate: %w", err)
			}
		}
		if err := s.deps.Reconciliation.Record(ctx, row); err != nil {
			return fmt.Errorf("reconciliation: record aggregate_vs_event: %w", err)
		}
		if discrepant {
			s.alert(ctx, row)
		}
	}
	return nil
}

func (s *Service) alert(ctx context.Context, row *domain.ReconciliationRow) {
	if s.deps.Alerter == nil {
		return
	}
	s.deps.Alerter(ctx, row.Scope, row)
}

func statusFor(discrepancy int64) domain.ReconciliationStatus {
	if discrepancy == 0 {
		return domain.ReconciliationClean
	}
	return domain.ReconciliationDiscrepant
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
