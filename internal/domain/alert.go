package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type AlertRuleType string

const (
	AlertUsageThreshold AlertRuleType = "usage_threshold"
	AlertUsageSpike     AlertRuleType = "usage_spike"
	AlertCostThreshold  AlertRuleType = "cost_threshold"
	AlertUnusualPattern AlertRuleType = "unusual_pattern"
)

type ComparisonOperator string

const (
	OpGT  ComparisonOperator = "gt"
	OpGTE ComparisonOperator = "gte"
	OpLT  ComparisonOperator = "lt"
	OpLTE ComparisonOperator = "lte"
	OpEQ  ComparisonOperator = "eq"
)

// Period is the comparison window an alert rule evaluates over.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// AlertRule is evaluated by the alert engine on the hourly schedule tick.
type AlertRule struct {
	ID              string
	OrganisationID  string
	Type            AlertRuleType
	MetricName      string
	Unit            string
	Threshold       decimal.Decimal
	Operator        ComparisonOperator
	ComparisonPeriod Period
	SpikePercent    decimal.Decimal
	ReferencePeriod Period
	Active          bool
	Channels        []string
	CooldownMinutes int
	LastAlertAt     *time.Time
}

type AlertHistoryStatus string

const (
	AlertHistoryPending      AlertHistoryStatus = "pending"
	AlertHistorySent         AlertHistoryStatus = "sent"
	AlertHistoryFailed       AlertHistoryStatus = "failed"
	AlertHistoryAcknowledged AlertHistoryStatus = "acknowledged"
)

// AlertHistory is one row per trigger.
type AlertHistory struct {
	ID          string
	AlertRuleID string
	Status      AlertHistoryStatus
	ActualValue decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
	TriggeredAt time.Time
}

type AlertRepository interface {
	ListActive(ctx context.Context) ([]*AlertRule, error)
	Get(ctx context.Context, id string) (*AlertRule, error)
	Upsert(ctx context.Context, r *AlertRule) error
	// RecordTrigger inserts AlertHistory and stamps LastAlertAt on the rule
	// atomically, enforcing the cooldown invariant
	// against a concurrent evaluator.
	RecordTrigger(ctx context.Context, ruleID string, h *AlertHistory) error
	History(ctx context.Context, ruleID string, limit, offset int) ([]*AlertHistory, error)
	MarkHistoryStatus(ctx context.Context, historyID string, status AlertHistoryStatus) error
}
