// Package ingest validates, deduplicates, and durably accepts usage
// events into the hot store, then fires a non-blocking migration hint.
// Request latency is bounded by the single hot-store write.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

const maxFutureSkew = 5 * time.Minute

// Outcome mirrors the 202 response contract: accepted or duplicate.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
)

// MigrationHintPublisher is the fire-and-forget queue the ingest path
// notifies after a successful HES write; a publish failure is logged, never
// surfaced to the caller, because HES is already the durable record.
type MigrationHintPublisher interface {
	Publish(ctx context.Context, eventID string) error
}

// NoOpHintPublisher drops hints silently; used when the queue isn't wired in
// a given deployment (the migration worker still makes progress by polling
// ScanUnprocessed on its own schedule).
type NoOpHintPublisher struct{}

func (NoOpHintPublisher) Publish(ctx context.Context, eventID string) error { return nil }

// EventInput is the validated wire payload from POST /events.
type EventInput struct {
	EventID     string
	MetricName  string
	MetricValue decimal.Decimal
	Unit        string
	Timestamp   *time.Time
	Metadata    map[string]any
}

// DuplicateKeyChecker classifies a Put error as a duplicate-key rejection.
// Concrete stores (e.g. hotstore.IsDuplicateKey) implement the concrete
// check; ingest only depends on the domain.HotEventStore interface.
type DuplicateKeyChecker func(error) bool

type Service struct {
	hotStore    domain.HotEventStore
	publisher   MigrationHintPublisher
	isDuplicate DuplicateKeyChecker
	logger      zerolog.Logger
}

func New(hotStore domain.HotEventStore, publisher MigrationHintPublisher, isDuplicate DuplicateKeyChecker, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = NoOpHintPublisher{}
	}
	if isDuplicate == nil {
		isDuplicate = func(error) bool { return false }
	}
	return &Service{
		hotStore:    hotStore,
		publisher:   publisher,
		isDuplicate: isDuplicate,
		logger:      logger.With().Str("component", "ingest").Logger(),
	}
}

// Validate checks field-level wire constraints, independent of
// authentication or storage.
func Validate(in EventInput) error {
	if in.EventID == "" || len(in.EventID) > domain.MaxIdempotencyKeyLength {
		return &domain.ValidationError{Field: "event_id", Message: "required, max 255 chars"}
	}
	if in.MetricName == "" || len(in.MetricName) > 100 {
		return &domain.ValidationError{Field: "metric_name", Message: "required, max 100 chars"}
	}
	if in.MetricValue.IsNegative() {
		return &domain.ValidationError{Field: "metric_value", Message: "must be >= 0"}
	}
	if in.Unit == "" || len(in.Unit) > 50 {
		return &domain.ValidationError{Field: "unit", Message: "required, max 50 chars"}
	}
	if in.Timestamp != nil && in.Timestamp.After(time.Now().UTC().Add(maxFutureSkew)) {
		return &domain.ValidationError{Field: "timestamp", Message: "must not be more than 5 minutes in the future"}
	}
	return nil
}

// Accept runs the ingest path: dedup check, hot-store write, migration
// hint. Authentication (project api-key -> organisation/project) happens
// in middleware, which carries its result
// via the organisationID/projectID parameters.
func (s *Service) Accept(ctx context.Context, organisationID, projectID string, in EventInput) (Outcome, error) {
	if err := Validate(in); err != nil {
		return "", err
	}

	exists, err := s.hotStore.Exists(ctx, in.EventID)
	if err != nil {
		return "", fmt.Errorf("ingest: check existing: %w", err)
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	ts := time.Now().UTC()
	if in.Timestamp != nil {
		ts = *in.Timestamp
	}

	event := &domain.UsageEvent{
		ID:             uuid.NewString(),
		OrganisationID: organisationID,
		ProjectID:      projectID,
		MetricName:     in.MetricName,
		MetricValue:    in.MetricValue,
		Unit:           in.Unit,
		Timestamp:      ts,
		Metadata:       in.Metadata,
		IdempotencyKey: in.EventID,
		IngestedAt:     time.Now().UTC(),
	}

	if err := s.hotStore.Put(ctx, event); err != nil {
		if s.isDuplicate(err) {
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("ingest: put: %w", err)
	}

	if err := s.publisher.Publish(ctx, event.ID); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("migration hint publish failed, relying on poll")
	}

	return OutcomeAccepted, nil
}
