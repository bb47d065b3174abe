package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

var _ domain.AlertRepository = (*AlertRepository)(nil)

const alertRuleColumns = `id, organisation_id, type, metric_name, unit, threshold, operator, comparison_period, spike_percent, reference_period, active, channels, cooldown_minutes, last_alert_at`

func (r *AlertRepository) ListActive(ctx context.Context) ([]*domain.AlertRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active alert rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.AlertRule
	for rows.Next() {
		rule := &domain.AlertRule{}
		if err := rows.Scan(&rule.ID, &rule.OrganisationID, &rule.Type, &rule.MetricName, &rule.Unit, &rule.Threshold, &rule.Operator,
			&rule.ComparisonPeriod, &rule.SpikePercent, &rule.ReferencePeriod, &rule.Active, &rule.Channels, &rule.CooldownMinutes, &rule.LastAlertAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *AlertRepository) Get(ctx context.Context, id string) (*domain.AlertRule, error) {
	rule := &domain.AlertRule{}
	err := r.pool.QueryRow(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE id = $1`, id).Scan(
		&rule.ID, &rule.OrganisationID, &rule.Type, &rule.MetricName, &rule.Unit, &rule.Threshold, &rule.Operator,
		&rule.ComparisonPeriod, &rule.SpikePercent, &rule.ReferencePeriod, &rule.Active, &rule.Channels, &rule.CooldownMinutes, &rule.LastAlertAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, fmt.Errorf("postgres: get alert rule: %w", err)
	}
	return rule, nil
}

func (r *AlertRepository) Upsert(ctx context.Context, rule *domain.AlertRule) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO alert_rules (organisation_id, type, metric_name, unit, threshold, operator, comparison_period, spike_percent, reference_period, active, channels, cooldown_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			threshold = EXCLUDED.threshold, operator = EXCLUDED.operator, active = EXCLUDED.active,
			channels = EXCLUDED.channels, cooldown_minutes = EXCLUDED.cooldown_minutes
		RETURNING id
	`, rule.OrganisationID, rule.Type, rule.MetricName, rule.Unit, rule.Threshold, rule.Operator, rule.ComparisonPeriod,
		rule.SpikePercent, rule.ReferencePeriod, rule.Active, rule.Channels, rule.CooldownMinutes).Scan(&rule.ID)
}

// RecordTrigger inserts the history row and stamps last_alert_at atomically,
// so a concurrent evaluator sees the updated cooldown window immediately.
func (r *AlertRepository) RecordTrigger(ctx context.Context, ruleID string, h *domain.AlertHistory) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: record trigger begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `
		INSERT INTO alert_history (alert_rule_id, status, actual_value, period_start, period_end, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, ruleID, h.Status, h.ActualValue, h.PeriodStart, h.PeriodEnd, h.TriggeredAt).Scan(&h.ID); err != nil {
		return fmt.Errorf("postgres: insert alert history: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE alert_rules SET last_alert_at = $2 WHERE id = $1`, ruleID, h.TriggeredAt); err != nil {
		return fmt.Errorf("postgres: stamp last alert: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *AlertRepository) History(ctx context.Context, ruleID string, limit, offset int) ([]*domain.AlertHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, alert_rule_id, status, actual_value, period_start, period_end, triggered_at
		FROM alert_history WHERE alert_rule_id = $1 ORDER BY triggered_at DESC LIMIT $2 OFFSET $3
	`, ruleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alert history: %w", err)
	}
	defer rows.Close()

	var out []*domain.AlertHistory
	for rows.Next() {
		h := &domain.AlertHistory{}
		if err := rows.Scan(&h.ID, &h.AlertRuleID, &h.Status, &h.ActualValue, &h.PeriodStart, &h.PeriodEnd, &h.TriggeredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *AlertRepository) MarkHistoryStatus(ctx context.Context, historyID string, status domain.AlertHistoryStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE alert_history SET status = $2 WHERE id = $1`, historyID, status)
	if err != nil {
		return fmt.Errorf("postgres: mark alert history status: %w", err)
	}
	return nil
}
