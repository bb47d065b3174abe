package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/payment"
)

type fakeRecon struct{ rows []*domain.ReconciliationRow }

func (f *fakeRecon) Record(ctx context.Context, r *domain.ReconciliationRow) error {
	f.rows = append(f.rows, r)
	return nil
}
func (f *fakeRecon) ListDiscrepancies(ctx context.Context, scope domain.ReconciliationScope, since time.Time) ([]*domain.ReconciliationRow, error) {
	return nil, nil
}

type fakeHotStore struct{ counts map[string]int64 }

func (f *fakeHotStore) Put(ctx context.Context, e *domain.UsageEvent) error    { return nil }
func (f *fakeHotStore) Exists(ctx context.Context, key string) (bool, error)  { return false, nil }
func (f *fakeHotStore) ScanUnprocessed(ctx context.Context, limit int) ([]*domain.UsageEvent, error) {
	return nil, nil
}
func (f *fakeHotStore) MarkProcessed(ctx context.Context, ids []string) error { return nil }
func (f *fakeHotStore) DeleteProcessedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeHotStore) CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error) {
	return f.counts[organisationID+"/"+projectID+"/"+metricName], nil
}

type fakeEvents struct {
	counts map[string]int64
	events []*domain.UsageEvent
}

func (f *fakeEvents) InsertBatch(ctx context.Context, events []*domain.UsageEvent) ([]string, error) {
	return nil, nil
}
func (f *fakeEvents) CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error) {
	return f.counts[organisationID+"/"+projectID+"/"+metricName], nil
}
func (f *fakeEvents) ListForAggregateRebuild(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) ([]*domain.UsageEvent, error) {
	return f.events, nil
}
func (f *fakeEvents) SumByPeriod(ctx context.Context, organisationID, metricName, unit string, from, to time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeAggregates struct {
	stored   *domain.UsageAggregate
	replaced *domain.UsageAggregate
}

func (f *fakeAggregates) UpsertDelta(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int, valueDelta decimal.Decimal, countDelta int64) error {
	return nil
}
func (f *fakeAggregates) Get(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) (*domain.UsageAggregate, error) {
	return f.stored, nil
}
func (f *fakeAggregates) ListForBillingPeriod(ctx context.Context, organisationID string, month, year int) ([]*domain.UsageAggregate, error) {
	return nil, nil
}
func (f *fakeAggregates) Replace(ctx context.Context, a *domain.UsageAggregate) error {
	f.replaced = a
	return nil
}

type fakePayments struct{ payments []*domain.Payment }

func (f *fakePayments) Create(ctx context.Context, p *domain.Payment) error          { return nil }
func (f *fakePayments) Get(ctx context.Context, id string) (*domain.Payment, error)  { return nil, nil }
func (f *fakePayments) GetByInvoice(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) GetByGatewayOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) GetByGatewayPaymentIDForUpdate(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) TransitionAndCoupleInvoice(ctx context.Context, paymentID string, next domain.PaymentStatus, gatewayPaymentID string, paidAt *time.Time) error {
	return nil
}
func (f *fakePayments) ListRetryEligible(ctx context.Context, asOf time.Time) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) ScheduleRetry(ctx context.Context, paymentID string, nextRetryAt time.Time, attempt domain.RetryAttempt) error {
	return nil
}
func (f *fakePayments) ListStuckPending(ctx context.Context, olderThan time.Duration) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) MarkFailed(ctx context.Context, paymentID string) error { return nil }
func (f *fakePayments) SumRefunded(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakePayments) List(ctx context.Context, organisationID string, limit, offset int) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakePayments) ListUpdatedSince(ctx context.Context, since time.Time) ([]*domain.Payment, error) {
	return f.payments, nil
}

type fakeGatewayWithState struct{ states map[string]payment.GatewayState }

func (g *fakeGatewayWithState) CreateOrder(ctx context.Context, req payment.OrderRequest) (payment.Order, error) {
	return payment.Order{}, nil
}
func (g *fakeGatewayWithState) CreateRefund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	return payment.RefundResult{}, nil
}
func (g *fakeGatewayWithState) GetPaymentState(ctx context.Context, gatewayPaymentID string) (payment.GatewayState, error) {
	return g.states[gatewayPaymentID], nil
}

func TestRunHotVsDurable_FlagsDiscrepancy(t *testing.T) {
	recon := &fakeRecon{}
	svc := New(Dependencies{
		Reconciliation: recon,
		HotStore:       &fakeHotStore{counts: map[string]int64{"org1/proj1/calls": 10}},
		Events:         &fakeEvents{counts: map[string]int64{"org1/proj1/calls": 8}},
		Keys: func(ctx context.Context) ([]OrgProjectMetricKey, error) {
			return []OrgProjectMetricKey{{OrganisationID: "org1", ProjectID: "proj1", MetricName: "calls"}}, nil
		},
	}, zerolog.Nop())

	alerted := false
	svc.deps.Alerter = func(ctx context.Context, scope domain.ReconciliationScope, row *domain.ReconciliationRow) { alerted = true }

	if err := svc.RunHotVsDurable(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recon.rows) != 1 || recon.rows[0].DiscrepancyCount != 2 {
		t.Fatalf("expected discrepancy 2, got %+v", recon.rows)
	}
	if !alerted {
		t.Fatal("expected alert on discrepancy")
	}
}

func TestRunHotVsDurable_CleanWhenEqual(t *testing.T) {
	recon := &fakeRecon{}
	svc := New(Dependencies{
		Reconciliation: recon,
		HotStore:       &fakeHotStore{counts: map[string]int64{"org1/proj1/calls": 5}},
		Events:         &fakeEvents{counts: map[string]int64{"org1/proj1/calls": 5}},
		Keys: func(ctx context.Context) ([]OrgProjectMetricKey, error) {
			return []OrgProjectMetricKey{{OrganisationID: "org1", ProjectID: "proj1", MetricName: "calls"}}, nil
		},
	}, zerolog.Nop())

	if err := svc.RunHotVsDurable(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recon.rows[0].Status != domain.ReconciliationClean {
		t.Fatalf("expected clean, got %s", recon.rows[0].Status)
	}
}

func TestRunGatewayVsPayments_MismatchFlagged(t *testing.T) {
	recon := &fakeRecon{}
	payments := &fakePayments{payments: []*domain.Payment{
		{ID: "pay1", GatewayPaymentID: "gw1", Status: domain.PaymentCaptured},
	}}
	gw := &fakeGatewayWithState{states: map[string]payment.GatewayState{"gw1": {Status: "failed"}}}

	svc := New(Dependencies{Reconciliation: recon, Payments: payments, Gateway: gw}, zerolog.Nop())
	if err := svc.RunGatewayVsPayments(context.Background(), time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recon.rows[0].Status != domain.ReconciliationDiscrepant {
		t.Fatalf("expected discrepant, got %s", recon.rows[0].Status)
	}
}

func TestRunGatewayVsPayments_SkipsWithoutStateFetcher(t *testing.T) {
	recon := &fakeRecon{}
	svc := New(Dependencies{Reconciliation: recon, Payments: &fakePayments{}, Gateway: &noStateGateway{}}, zerolog.Nop())
	if err := svc.RunGatewayVsPayments(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recon.rows) != 0 {
		t.Fatalf("expected no rows recorded, got %d", len(recon.rows))
	}
}

type noStateGateway struct{}

func (g *noStateGateway) CreateOrder(ctx context.Context, req payment.OrderRequest) (payment.Order, error) {
	return payment.Order{}, nil
}
func (g *noStateGateway) CreateRefund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	return payment.RefundResult{}, nil
}

func TestRunAggregateVsEvents_RecomputesOnMismatch(t *testing.T) {
	recon := &fakeRecon{}
	aggRepo := &fakeAggregates{stored: &domain.UsageAggregate{TotalValue: decimal.NewFromInt(50), EventCount: 2}}
	events := &fakeEvents{events: []*domain.UsageEvent{
		{MetricValue: decimal.NewFromInt(30)},
		{MetricValue: decimal.NewFromInt(30)},
	}}

	svc := New(Dependencies{
		Reconciliation: recon,
		Aggregates:     aggRepo,
		Events:         events,
		Keys: func(ctx context.Context) ([]OrgProjectMetricKey, error) {
			return []OrgProjectMetricKey{{OrganisationID: "org1", ProjectID: "proj1", MetricName: "calls", Unit: "req"}}, nil
		},
	}, zerolog.Nop())

	if err := svc.RunAggregateVsEvents(context.Background(), 1, 2026); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aggRepo.replaced == nil || !aggRepo.replaced.TotalValue.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected replace with recomputed total 60, got %+v", aggRepo.replaced)
	}
	if recon.rows[0].Status != domain.ReconciliationDiscrepant {
		t.Fatalf("expected discrepant, got %s", recon.rows[0].Status)
	}
}
