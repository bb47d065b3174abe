// Package alert evaluates alert rules (threshold, spike, cost,
// unusual-pattern) on a schedule with per-rule cooldowns. Delivery goes
// through the Notifier capability interface, the same pattern
// (payment.Gateway, currency.Source) used everywhere an external
// collaborator sits behind the core.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// Notifier is the capability interface for delivering a triggered alert
// through whatever channel(s) a rule names.
type Notifier interface {
	Send(ctx context.Context, channel string, message Message) error
}

// Message is what a Notifier delivers.
type Message struct {
	OrganisationID string
	RuleType       domain.AlertRuleType
	Summary        string
	ActualValue    decimal.Decimal
	Threshold      decimal.Decimal
}

type Dependencies struct {
	Alerts   domain.AlertRepository
	Events   domain.UsageEventRepository
	Pricing  domain.PricingRepository
	Notifier Notifier
}

type Engine struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies, logger zerolog.Logger) *Engine {
	return &Engine{deps: deps, logger: logger.With().Str("component", "alert").Logger()}
}

// Result tallies one evaluation pass.
type Result struct {
	Evaluated int
	Triggered int
}

// Run evaluates every active rule, isolating one rule's error from the rest.
func (e *Engine) Run(ctx context.Context, now time.Time) (Result, error) {
	rules, err := e.deps.Alerts.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("alert: list active: %w", err)
	}

	var res Result
	for _, r := range rules {
		res.Evaluated++
		triggered, err := e.Evaluate(ctx, r, now)
		if err != nil {
			e.logger.Error().Err(err).Str("rule_id", r.ID).Msg("alert rule evaluation failed")
			continue
		}
		if triggered {
			res.Triggered++
		}
	}
	return res, nil
}

// Evaluate runs one rule at one instant: cooldown and
// active-flag gating, period windowing, then the per-type comparison.
func (e *Engine) Evaluate(ctx context.Context, r *domain.AlertRule, now time.Time) (bool, error) {
	if !r.Active {
		return false, nil
	}
	if r.LastAlertAt != nil && r.LastAlertAt.Add(time.Duration(r.CooldownMinutes)*time.Minute).After(now) {
		return false, nil
	}

	periodStart, periodEnd := windowFor(r.ComparisonPeriod, now)

	var triggered bool
	var actual decimal.Decimal
	var err error

	switch r.Type {
	case domain.AlertUsageThreshold:
		actual, err = e.deps.Events.SumByPeriod(ctx, r.OrganisationID, r.MetricName, r.Unit, periodStart, periodEnd)
		if err != nil {
			return false, fmt.Errorf("alert: sum usage: %w", err)
		}
		triggered = compare(actual, r.Operator, r.Threshold)

	case domain.AlertUsageSpike:
		actual, err = e.deps.Events.SumByPeriod(ctx, r.OrganisationID, r.MetricName, r.Unit, periodStart, periodEnd)
		if err != nil {
			return false, fmt.Errorf("alert: sum usage for spike: %w", err)
		}
		refStart, refEnd := windowFor(r.ReferencePeriod, periodStart)
		reference, err := e.deps.Events.SumByPeriod(ctx, r.OrganisationID, r.MetricName, r.Unit, refStart, refEnd)
		if err != nil {
			return false, fmt.Errorf("alert: sum usage for reference: %w", err)
		}
		if reference.IsZero() {
			triggered = false // undefined spike percentage when reference is 0
		} else {
			spike := actual.Sub(reference).Div(reference).Mul(decimal.NewFromInt(100))
			triggered = spike.GreaterThanOrEqual(r.SpikePercent)
		}

	case domain.AlertCostThreshold:
		usage, err := e.deps.Events.SumByPeriod(ctx, r.OrganisationID, r.MetricName, r.Unit, periodStart, periodEnd)
		if err != nil {
			return false, fmt.Errorf("alert: sum usage for cost: %w", err)
		}
		rule, err := e.deps.Pricing.EffectiveRule(ctx, r.OrganisationID, r.MetricName, r.Unit, now)
		if err != nil {
			return false, fmt.Errorf("alert: load pricing rule: %w", err)
		}
		actual = usage.Mul(rule.PricePerUnit)
		triggered = compare(actual, r.Operator, r.Threshold)

	case domain.AlertUnusualPattern:
		actual, err = e.deps.Events.SumByPeriod(ctx, r.OrganisationID, r.MetricName, r.Unit, periodStart, periodEnd)
		if err != nil {
			return false, fmt.Errorf("alert: sum usage for pattern: %w", err)
		}
		triggered = actual.IsZero() && r.Threshold.IsPositive()

	default:
		return false, fmt.Errorf("alert: unrecognised rule type %s", r.Type)
	}

	if !triggered {
		return false, nil
	}

	h := &domain.AlertHistory{
		ID:          uuid.NewString(),
		AlertRuleID: r.ID,
		Status:      domain.AlertHistoryPending,
		ActualValue: actual,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		TriggeredAt: now,
	}
	if err := e.deps.Alerts.RecordTrigger(ctx, r.ID, h); err != nil {
		return false, fmt.Errorf("alert: record trigger: %w", err)
	}

	status := domain.AlertHistorySent
	for _, channel := range r.Channels {
		if e.deps.Notifier == nil {
			continue
		}
		if sendErr := e.deps.Notifier.Send(ctx, channel, Message{
			OrganisationID: r.OrganisationID,
			RuleType:       r.Type,
			Summary:        fmt.Sprintf("%s breached threshold on %s/%s", r.Type, r.MetricName, r.Unit),
			ActualValue:    actual,
			Threshold:      r.Threshold,
		}); sendErr != nil {
			e.logger.Error().Err(sendErr).Str("rule_id", r.ID).Str("channel", channel).Msg("alert notification failed")
			status = domain.AlertHistoryFailed
		}
	}
	if err := e.deps.Alerts.MarkHistoryStatus(ctx, h.ID, status); err != nil {
		return true, fmt.Errorf("alert: mark history status: %w", err)
	}
	return true, nil
}

func compare(actual decimal.Decimal, op domain.ComparisonOperator, threshold decimal.Decimal) bool {
	switch op {
	case domain.OpGT:
		return actual.GreaterThan(threshold)
	case domain.OpGTE:
		return actual.GreaterThanOrEqual(threshold)
	case domain.OpLT:
		return actual.LessThan(threshold)
	case domain.OpLTE:
		return actual.LessThanOrEqual(threshold)
	case domain.OpEQ:
		return actual.Equal(threshold)
	default:
		return false
	}
}

// windowFor computes [start, end) ending at now for the named period.
func windowFor(period domain.Period, now time.Time) (time.Time, time.Time) {
	switch period {
	case domain.PeriodHour:
		return now.Add(-time.Hour), now
	case domain.PeriodDay:
		return now.AddDate(0, 0, -1), now
	case domain.PeriodWeek:
		return now.AddDate(0, 0, -7), now
	case domain.PeriodMonth:
		return now.AddDate(0, -1, 0), now
	default:
		return now.AddDate(0, 0, -1), now
	}
}
