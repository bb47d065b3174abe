package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/meterbill/internal/domain"
)

func TestFoldDeltasGroupsByKey(t *testing.T) {
	ts := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	events := []*domain.UsageEvent{
		{OrganisationID: "org1", ProjectID: "proj1", MetricName: "api_calls", Unit: "count", Timestamp: ts, MetricValue: decimal.NewFromInt(3)},
		{OrganisationID: "org1", ProjectID: "proj1", MetricName: "api_calls", Unit: "count", Timestamp: ts, MetricValue: decimal.NewFromInt(4)},
		{OrganisationID: "org1", ProjectID: "proj1", MetricName: "storage_gb", Unit: "gb", Timestamp: ts, MetricValue: decimal.NewFromFloat(1.5)},
	}

	keys, deltas := foldDeltas(events)
	require.Len(t, keys, 2)

	apiKey := key{organisationID: "org1", projectID: "proj1", metricName: "api_calls", unit: "count", month: 3, year: 2026}
	assert.True(t, deltas[apiKey].value.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, int64(2), deltas[apiKey].count)

	storageKey := key{organisationID: "org1", projectID: "proj1", metricName: "storage_gb", unit: "gb", month: 3, year: 2026}
	assert.True(t, deltas[storageKey].value.Equal(decimal.NewFromFloat(1.5)))
	assert.Equal(t, int64(1), deltas[storageKey].count)
}

func TestFoldDeltasSplitsAcrossMonths(t *testing.T) {
	events := []*domain.UsageEvent{
		{OrganisationID: "org1", ProjectID: "proj1", MetricName: "api_calls", Unit: "count",
			Timestamp: time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC), MetricValue: decimal.NewFromInt(1)},
		{OrganisationID: "org1", ProjectID: "proj1", MetricName: "api_calls", Unit: "count",
			Timestamp: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), MetricValue: decimal.NewFromInt(1)},
	}

	keys, deltas := foldDeltas(events)
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.Equal(t, int64(1), deltas[k].count)
	}
}

func TestFoldDeltasEmpty(t *testing.T) {
	keys, deltas := foldDeltas(nil)
	assert.Empty(t, keys)
	assert.Empty(t, deltas)
}
