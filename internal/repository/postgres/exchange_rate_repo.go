package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/meterbill/internal/domain"
)

type ExchangeRateRepository struct {
	pool *pgxpool.Pool
}

func NewExchangeRateRepository(pool *pgxpool.Pool) *ExchangeRateRepository {
	return &ExchangeRateRepository{pool: pool}
}

var _ domain.ExchangeRateRepository = (*ExchangeRateRepository)(nil)

func (r *ExchangeRateRepository) Effective(ctx context.Context, base, target string, atDate time.Time) (*domain.ExchangeRate, error) {
	rate := &domain.ExchangeRate{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, base, target, rate, effective_from, effective_to, source
		FROM exchange_rates
		WHERE base = $1 AND target = $2 AND effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3)
		ORDER BY effective_from DESC
		LIMIT 1
	`, base, target, atDate).Scan(&rate.ID, &rate.Base, &rate.Target, &rate.Rate, &rate.EffectiveFrom, &rate.EffectiveTo, &rate.Source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExchangeRateMissing
		}
		return nil, fmt.Errorf("postgres: effective exchange rate: %w", err)
	}
	return rate, nil
}

// Upsert closes the previous effective window for (base, target) and
// inserts the new row.
func (r *ExchangeRateRepository) Upsert(ctx context.Context, rate *domain.ExchangeRate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: exchange rate upsert begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE exchange_rates SET effective_to = $3
		WHERE base = $1 AND target = $2 AND effective_to IS NULL
	`, rate.Base, rate.Target, rate.EffectiveFrom); err != nil {
		return fmt.Errorf("postgres: close previous exchange rate window: %w", err)
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO exchange_rates (base, target, rate, effective_from, effective_to, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, rate.Base, rate.Target, rate.Rate, rate.EffectiveFrom, rate.EffectiveTo, rate.Source).Scan(&rate.ID); err != nil {
		return fmt.Errorf("postgres: insert exchange rate: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *ExchangeRateRepository) List(ctx context.Context, base string) ([]*domain.ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, base, target, rate, effective_from, effective_to, source
		FROM exchange_rates WHERE base = $1 ORDER BY target, effective_from DESC
	`, base)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exchange rates: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExchangeRate
	for rows.Next() {
		rate := &domain.ExchangeRate{}
		if err := rows.Scan(&rate.ID, &rate.Base, &rate.Target, &rate.Rate, &rate.EffectiveFrom, &rate.EffectiveTo, &rate.Source); err != nil {
			return nil, fmt.Errorf("postgres: scan exchange rate: %w", err)
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}
