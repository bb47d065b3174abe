package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event (created, updated, deleted, ...)
type EventType string

const (
	EventTypeCreated EventType = "created"
	EventTypeUpdated EventType = "updated"
	EventTypeDeleted EventType = "deleted"
)

// Additional event types for specific, domain-shaped pushes.
const (
	EventTypeFinalized  EventType = "finalized"
	EventTypeCaptured   EventType = "captured"
	EventTypeRefunded   EventType = "refunded"
	EventTypeTriggered  EventType = "triggered"
)

// EntityType represents the type of entity the event is about
type EntityType string

const (
	EntityTypeUsageAggregate EntityType = "usage_aggregate"
	EntityTypeInvoice        EntityType = "invoice"
	EntityTypePayment        EntityType = "payment"
	EntityTypeAlert          EntityType = "alert"
)

// Event represents a WebSocket event message sent to admin realtime clients.
// Format: { type, entity, payload, timestamp }
type Event struct {
	Type      string      `json:"type"`      // Combined type e.g. "usage_aggregate.updated"
	Entity    EntityType  `json:"entity"`    // Entity type e.g. "usage_aggregate"
	Payload   interface{} `json:"payload"`   // Full entity data
	Timestamp time.Time   `json:"timestamp"` // Event timestamp
}

// NewEvent creates a new event with the given type, entity, and payload
func NewEvent(eventType EventType, entityType EntityType, payload interface{}) Event {
	return Event{
		Type:      fmt.Sprintf("%s.%s", entityType, eventType),
		Entity:    entityType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// UsageAggregateUpdated creates a usage_aggregate.updated event: one
// coalesced delta per (metric, unit) per flush interval, emitted by the
// feed's usage buffer rather than per ingested event.
func UsageAggregateUpdated(payload interface{}) Event {
	return NewEvent(EventTypeUpdated, EntityTypeUsageAggregate, payload)
}

// InvoiceFinalized creates an invoice.finalized event.
func InvoiceFinalized(payload interface{}) Event {
	return NewEvent(EventTypeFinalized, EntityTypeInvoice, payload)
}

// PaymentCaptured creates a payment.captured event.
func PaymentCaptured(payload interface{}) Event {
	return NewEvent(EventTypeCaptured, EntityTypePayment, payload)
}

// PaymentRefunded creates a payment.refunded event.
func PaymentRefunded(payload interface{}) Event {
	return NewEvent(EventTypeRefunded, EntityTypePayment, payload)
}

// AlertTriggered creates an alert.triggered event.
func AlertTriggered(payload interface{}) Event {
	return NewEvent(EventTypeTriggered, EntityTypeAlert, payload)
}
