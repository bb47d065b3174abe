package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		name     string
		et       EventType
		expected string
	}{
		{"created", EventTypeCreated, "created"},
		{"updated", EventTypeUpdated, "updated"},
		{"deleted", EventTypeDeleted, "deleted"},
		{"finalized", EventTypeFinalized, "finalized"},
		{"captured", EventTypeCaptured, "captured"},
		{"refunded", EventTypeRefunded, "refunded"},
		{"triggered", EventTypeTriggered, "triggered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.et))
		})
	}
}

func TestEntityType_String(t *testing.T) {
	tests := []struct {
		name     string
		et       EntityType
		expected string
	}{
		{"usage_aggregate", EntityTypeUsageAggregate, "usage_aggregate"},
		{"invoice", EntityTypeInvoice, "invoice"},
		{"payment", EntityTypePayment, "payment"},
		{"alert", EntityTypeAlert, "alert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.et))
		})
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{
		"organisation_id": "org-1",
		"metric_name":     "api_calls",
		"total_value":     "100.00",
	}

	before := time.Now()
	evt := NewEvent(EventTypeUpdated, EntityTypeUsageAggregate, payload)
	after := time.Now()

	assert.Equal(t, "usage_aggregate.updated", evt.Type)
	assert.Equal(t, EntityTypeUsageAggregate, evt.Entity)
	assert.Equal(t, payload, evt.Payload)
	assert.True(t, !evt.Timestamp.Before(before) && !evt.Timestamp.After(after))
}

func TestEvent_JSON_Serialization(t *testing.T) {
	fixedTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	payload := map[string]interface{}{
		"id":     float64(1),
		"name":   "Test Invoice",
		"amount": "100.00",
	}

	evt := Event{
		Type:      "invoice.finalized",
		Entity:    EntityTypeInvoice,
		Payload:   payload,
		Timestamp: fixedTime,
	}

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded Event
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, evt.Type, decoded.Type)
	assert.Equal(t, evt.Entity, decoded.Entity)
	assert.Equal(t, fixedTime.UTC(), decoded.Timestamp.UTC())

	// Payload should be preserved
	decodedPayload, ok := decoded.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), decodedPayload["id"])
	assert.Equal(t, "Test Invoice", decodedPayload["name"])
	assert.Equal(t, "100.00", decodedPayload["amount"])
}

func TestEvent_ToJSON(t *testing.T) {
	payload := map[string]interface{}{
		"id": float64(42),
	}

	evt := NewEvent(EventTypeUpdated, EntityTypeUsageAggregate, payload)

	data, err := evt.ToJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Verify it's valid JSON
	var decoded map[string]interface{}
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "usage_aggregate.updated", decoded["type"])
	assert.Equal(t, "usage_aggregate", decoded["entity"])
	assert.NotNil(t, decoded["payload"])
	assert.NotNil(t, decoded["timestamp"])
}

func TestBillingEvent_Helpers(t *testing.T) {
	payload := map[string]interface{}{
		"id":     float64(1),
		"amount": "1180.00",
	}

	t.Run("UsageAggregateUpdated", func(t *testing.T) {
		evt := UsageAggregateUpdated(payload)
		assert.Equal(t, "usage_aggregate.updated", evt.Type)
		assert.Equal(t, EntityTypeUsageAggregate, evt.Entity)
		assert.Equal(t, payload, evt.Payload)
	})

	t.Run("InvoiceFinalized", func(t *testing.T) {
		evt := InvoiceFinalized(payload)
		assert.Equal(t, "invoice.finalized", evt.Type)
		assert.Equal(t, EntityTypeInvoice, evt.Entity)
		assert.Equal(t, payload, evt.Payload)
	})

	t.Run("PaymentCaptured", func(t *testing.T) {
		evt := PaymentCaptured(payload)
		assert.Equal(t, "payment.captured", evt.Type)
		assert.Equal(t, EntityTypePayment, evt.Entity)
		assert.Equal(t, payload, evt.Payload)
	})

	t.Run("PaymentRefunded", func(t *testing.T) {
		evt := PaymentRefunded(payload)
		assert.Equal(t, "payment.refunded", evt.Type)
		assert.Equal(t, EntityTypePayment, evt.Entity)
		assert.Equal(t, payload, evt.Payload)
	})

	t.Run("AlertTriggered", func(t *testing.T) {
		evt := AlertTriggered(payload)
		assert.Equal(t, "alert.triggered", evt.Type)
		assert.Equal(t, EntityTypeAlert, evt.Entity)
		assert.Equal(t, payload, evt.Payload)
	})
}
