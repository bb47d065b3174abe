package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type fakeHotStore struct {
	byKey map[string]*domain.UsageEvent
}

func newFakeHotStore() *fakeHotStore { return &fakeHotStore{byKey: map[string]*domain.UsageEvent{}} }

func (f *fakeHotStore) Put(ctx context.Context, e *domain.UsageEvent) error {
	if _, ok := f.byKey[e.IdempotencyKey]; ok {
		return errFakeDuplicate
	}
	f.byKey[e.IdempotencyKey] = e
	return nil
}

func (f *fakeHotStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	_, ok := f.byKey[idempotencyKey]
	return ok, nil
}

func (f *fakeHotStore) ScanUnprocessed(ctx context.Context, limit int) ([]*domain.UsageEvent, error) {
	return nil, nil
}
func (f *fakeHotStore) MarkProcessed(ctx context.Context, ids []string) error { return nil }
func (f *fakeHotStore) DeleteProcessedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeHotStore) CountByDay(ctx context.Context, organisationID, projectID, metricName string, day time.Time) (int64, error) {
	return 0, nil
}

var errFakeDuplicate = errDuplicate{}

type errDuplicate struct{}

func (errDuplicate) Error() string { return "duplicate" }

func TestAcceptFirstTimeIsAccepted(t *testing.T) {
	store := newFakeHotStore()
	svc := New(store, nil, func(err error) bool { return err == errFakeDuplicate }, zerolog.Nop())

	outcome, err := svc.Accept(context.Background(), "org1", "proj1", EventInput{
		EventID:     "e1",
		MetricName:  "api_calls",
		MetricValue: decimal.NewFromInt(1),
		Unit:        "count",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
}

func TestAcceptDuplicateReturnsNoError(t *testing.T) {
	store := newFakeHotStore()
	svc := New(store, nil, func(err error) bool { return err == errFakeDuplicate }, zerolog.Nop())

	in := EventInput{EventID: "e1", MetricName: "api_calls", MetricValue: decimal.NewFromInt(1), Unit: "count"}
	_, err := svc.Accept(context.Background(), "org1", "proj1", in)
	require.NoError(t, err)

	outcome, err := svc.Accept(context.Background(), "org1", "proj1", in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestAcceptRejectsFutureTimestamp(t *testing.T) {
	store := newFakeHotStore()
	svc := New(store, nil, nil, zerolog.Nop())

	future := time.Now().UTC().Add(10 * time.Minute)
	_, err := svc.Accept(context.Background(), "org1", "proj1", EventInput{
		EventID: "e2", MetricName: "api_calls", MetricValue: decimal.NewFromInt(1), Unit: "count", Timestamp: &future,
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAcceptRejectsNegativeMetricValue(t *testing.T) {
	store := newFakeHotStore()
	svc := New(store, nil, nil, zerolog.Nop())

	_, err := svc.Accept(context.Background(), "org1", "proj1", EventInput{
		EventID: "e3", MetricName: "api_calls", MetricValue: decimal.NewFromInt(-1), Unit: "count",
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
