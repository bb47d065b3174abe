package alert

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type fakeAlerts struct {
	rules    []*domain.AlertRule
	history  []*domain.AlertHistory
	statuses map[string]domain.AlertHistoryStatus
}

func newFakeAlerts(rules ...*domain.AlertRule) *fakeAlerts {
	return &fakeAlerts{rules: rules, statuses: map[string]domain.AlertHistoryStatus{}}
}

func (f *fakeAlerts) ListActive(ctx context.Context) ([]*domain.AlertRule, error) {
	var out []*domain.AlertRule
	for _, r := range f.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeAlerts) Get(ctx context.Context, id string) (*domain.AlertRule, error) { return nil, nil }
func (f *fakeAlerts) Upsert(ctx context.Context, r *domain.AlertRule) error         { return nil }
func (f *fakeAlerts) RecordTrigger(ctx context.Context, ruleID string, h *domain.AlertHistory) error {
	f.history = append(f.history, h)
	for _, r := range f.rules {
		if r.ID == ruleID {
			now := h.TriggeredAt
			r.LastAlertAt = &now
		}
	}
	return nil
}
func (f *fakeAlerts) History(ctx context.Context, ruleID string, limit, offset int) ([]*domain.AlertHistory, error) {
	return f.history, nil
}
func (f *fakeAlerts) MarkHistoryStatus(ctx context.Context, historyID string, status domain.AlertHistoryStatus) error {
	f.statuses[historyID] = status
	return nil
}

type fakeEvents struct{ sums map[string]decimal.Decimal }

func (f *fakeEvents) InsertBatch(ctx context.Context, events []*domain.UsageEvent) ([]string, error) {
	return nil, nil
}
func (f *fakeEvents) CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeEvents) ListForAggregateRebuild(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) ([]*domain.UsageEvent, error) {
	return nil, nil
}
func (f *fakeEvents) SumByPeriod(ctx context.Context, organisationID, metricName, unit string, from, to time.Time) (decimal.Decimal, error) {
	key := organisationID + "/" + metricName + "/" + unit + "/" + from.Format(time.RFC3339)
	if v, ok := f.sums[key]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

type fakePricing struct{ price decimal.Decimal }

func (f *fakePricing) EffectiveRule(ctx context.Context, organisationID, metricName, unit string, at time.Time) (*domain.PricingRule, error) {
	return &domain.PricingRule{PricePerUnit: f.price, Currency: "USD"}, nil
}
func (f *fakePricing) EffectiveMinimumRule(ctx context.Context, organisationID string, at time.Time) (*domain.MinimumChargeRule, error) {
	return nil, nil
}
func (f *fakePricing) UpsertPricingRule(ctx context.Context, r *domain.PricingRule) error   { return nil }
func (f *fakePricing) UpsertMinimumRule(ctx context.Context, r *domain.MinimumChargeRule) error {
	return nil
}
func (f *fakePricing) ListPricingRules(ctx context.Context, organisationID string) ([]*domain.PricingRule, error) {
	return nil, nil
}

type fakeNotifier struct{ sent []Message }

func (f *fakeNotifier) Send(ctx context.Context, channel string, msg Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestEvaluate_UsageThresholdTriggers(t *testing.T) {
	now := time.Now().UTC()
	rule := &domain.AlertRule{ID: "r1", OrganisationID: "org1", Type: domain.AlertUsageThreshold,
		MetricName: "calls", Unit: "req", Threshold: decimal.NewFromInt(100), Operator: domain.OpGT,
		ComparisonPeriod: domain.PeriodDay, Active: true, Channels: []string{"email"}}

	events := &fakeEvents{sums: map[string]decimal.Decimal{
		"org1/calls/req/" + now.AddDate(0, 0, -1).Format(time.RFC3339): decimal.NewFromInt(150),
	}}
	notifier := &fakeNotifier{}
	engine := New(Dependencies{Alerts: newFakeAlerts(rule), Events: events, Notifier: notifier}, zerolog.Nop())

	triggered, err := engine.Evaluate(context.Background(), rule, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !triggered {
		t.Fatal("expected threshold breach to trigger")
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.sent))
	}
}

func TestEvaluate_RespectsCooldown(t *testing.T) {
	now := time.Now().UTC()
	lastAlert := now.Add(-5 * time.Minute)
	rule := &domain.AlertRule{ID: "r1", Type: domain.AlertUsageThreshold, Active: true,
		CooldownMinutes: 60, LastAlertAt: &lastAlert, ComparisonPeriod: domain.PeriodDay}

	engine := New(Dependencies{Alerts: newFakeAlerts(rule), Events: &fakeEvents{}}, zerolog.Nop())
	triggered, err := engine.Evaluate(context.Background(), rule, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if triggered {
		t.Fatal("expected cooldown to suppress trigger")
	}
}

func TestEvaluate_UsageSpikeUndefinedWhenReferenceZero(t *testing.T) {
	now := time.Now().UTC()
	rule := &domain.AlertRule{ID: "r1", Type: domain.AlertUsageSpike, Active: true,
		ComparisonPeriod: domain.PeriodDay, ReferencePeriod: domain.PeriodWeek, SpikePercent: decimal.NewFromInt(50)}

	engine := New(Dependencies{Alerts: newFakeAlerts(rule), Events: &fakeEvents{}}, zerolog.Nop())
	triggered, err := engine.Evaluate(context.Background(), rule, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if triggered {
		t.Fatal("expected zero reference to never trigger")
	}
}

func TestEvaluate_CostThresholdUsesPricing(t *testing.T) {
	now := time.Now().UTC()
	rule := &domain.AlertRule{ID: "r1", OrganisationID: "org1", Type: domain.AlertCostThreshold,
		MetricName: "calls", Unit: "req", Threshold: decimal.NewFromInt(500), Operator: domain.OpGTE,
		ComparisonPeriod: domain.PeriodDay, Active: true}

	events := &fakeEvents{sums: map[string]decimal.Decimal{
		"org1/calls/req/" + now.AddDate(0, 0, -1).Format(time.RFC3339): decimal.NewFromInt(100),
	}}
	pricing := &fakePricing{price: decimal.NewFromInt(5)}
	engine := New(Dependencies{Alerts: newFakeAlerts(rule), Events: events, Pricing: pricing}, zerolog.Nop())

	triggered, err := engine.Evaluate(context.Background(), rule, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !triggered {
		t.Fatal("expected 100 * 5 = 500 >= 500 to trigger")
	}
}

func TestEvaluate_UnusualPatternDropToZero(t *testing.T) {
	now := time.Now().UTC()
	rule := &domain.AlertRule{ID: "r1", Type: domain.AlertUnusualPattern, Active: true,
		ComparisonPeriod: domain.PeriodDay, Threshold: decimal.NewFromInt(1)}

	engine := New(Dependencies{Alerts: newFakeAlerts(rule), Events: &fakeEvents{}}, zerolog.Nop())
	triggered, err := engine.Evaluate(context.Background(), rule, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !triggered {
		t.Fatal("expected zero usage with positive threshold to trigger")
	}
}
