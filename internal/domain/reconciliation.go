package domain

import (
	"context"
	"time"
)

type ReconciliationScope string

const (
	ScopeHotVsDurable     ReconciliationScope = "hot_vs_durable"
	ScopeGatewayVsPayment ReconciliationScope = "gateway_vs_payment"
	ScopeAggregateVsEvent ReconciliationScope = "aggregate_vs_event"
)

type ReconciliationStatus string

const (
	ReconciliationClean        ReconciliationStatus = "clean"
	ReconciliationDiscrepant   ReconciliationStatus = "discrepant"
	ReconciliationUnreconciled ReconciliationStatus = "unreconciled"
)

// ReconciliationRow is one record per run per scope.
type ReconciliationRow struct {
	ID             string
	RunAt          time.Time
	Scope          ReconciliationScope
	SubjectKey     string
	LeftCount      int64
	RightCount     int64
	DiscrepancyCount int64
	Status         ReconciliationStatus
	Details        map[string]any
}

type ReconciliationRepository interface {
	Record(ctx context.Context, r *ReconciliationRow) error
	ListDiscrepancies(ctx context.Context, scope ReconciliationScope, since time.Time) ([]*ReconciliationRow, error)
}
