package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

var _ domain.ReconciliationRepository = (*ReconciliationRepository)(nil)

func (r *ReconciliationRepository) Record(ctx context.Context, row *domain.ReconciliationRow) error {
	details, err := json.Marshal(row.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal reconciliation details: %w", err)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO reconciliation_rows (run_at, scope, subject_key, left_count, right_count, discrepancy_count, status, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, row.RunAt, row.Scope, row.SubjectKey, row.LeftCount, row.RightCount, row.DiscrepancyCount, row.Status, details).Scan(&row.ID)
}

func (r *ReconciliationRepository) ListDiscrepancies(ctx context.Context, scope domain.ReconciliationScope, since time.Time) ([]*domain.ReconciliationRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_at, scope, subject_key, left_count, right_count, discrepancy_count, status, details
		FROM reconciliation_rows WHERE scope = $1 AND run_at >= $2 AND discrepancy_count > 0 ORDER BY run_at DESC
	`, scope, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []*domain.ReconciliationRow
	for rows.Next() {
		row := &domain.ReconciliationRow{}
		var details []byte
		if err := rows.Scan(&row.ID, &row.RunAt, &row.Scope, &row.SubjectKey, &row.LeftCount, &row.RightCount, &row.DiscrepancyCount, &row.Status, &details); err != nil {
			return nil, fmt.Errorf("postgres: scan reconciliation row: %w", err)
		}
		_ = json.Unmarshal(details, &row.Details)
		out = append(out, row)
	}
	return out, rows.Err()
}
