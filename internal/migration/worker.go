// Package migration drains hot-store batches into the durable store with
// at-least-once-to-at-most-once semantics: an insert whose idempotency key
// already exists changes nothing (a no-op ON CONFLICT update that still
// returns the row), and a hot-store row is only marked
// processed once its durable presence is certain.
package migration

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/repository/postgres"
)

// AggregateUpserter is the aggregation hook the worker calls inside its
// own transaction so the aggregate update is atomic with the durable
// insert.
type AggregateUpserter interface {
	UpsertDeltaForEvents(ctx context.Context, tx pgx.Tx, events []*domain.UsageEvent) error
}

type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
}

func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		BatchSize:  1000,
		MaxBatches: 10,
	}
}

type Worker struct {
	pool      *pgxpool.Pool
	hotStore  domain.HotEventStore
	events    domain.UsageEventRepository
	aggregate AggregateUpserter
	logger    zerolog.Logger
	cfg       Config

	// onMigrated, when set, is invoked after a batch commits with the events
	// that landed durably. Used to push realtime aggregate updates to
	// connected admin clients; always post-commit so a rolled-back batch
	// never reaches a dashboard.
	onMigrated func(events []*domain.UsageEvent)

	stopCh  chan struct{}
	doneCh  chan struct{}
	kickCh  chan struct{}
	mu      sync.Mutex
	running bool
}

func New(pool *pgxpool.Pool, hotStore domain.HotEventStore, events domain.UsageEventRepository, aggregate AggregateUpserter, logger zerolog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 10
	}
	return &Worker{
		pool:      pool,
		hotStore:  hotStore,
		events:    events,
		aggregate: aggregate,
		logger:    logger.With().Str("component", "migration_worker").Logger(),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		kickCh:    make(chan struct{}, 1),
	}
}

// Kick requests an out-of-schedule run: the ingest path's fire-and-forget
// migration hint. Non-blocking; returns false when a
// run is already pending, which callers count as a dropped send.
func (w *Worker) Kick() bool {
	select {
	case w.kickCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// ListenKicks consumes Kick requests, running one drain pass per request.
// Runs until ctx is cancelled; intended for a dedicated goroutine alongside
// the scheduled runs.
func (w *Worker) ListenKicks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.kickCh:
			w.RunOnce(ctx)
		}
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info().Dur("interval", w.cfg.Interval).Int("batch_size", w.cfg.BatchSize).Msg("starting migration worker")
	go w.run(ctx)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.logger.Info().Msg("migration worker stopped")
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-w.stopCh:
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce drains up to cfg.MaxBatches batches and returns how many events
// it moved. Each batch is fail-fast: an error aborts
// the whole run so no HES row is marked processed without its DS presence
// being certain; the next scheduled tick retries from where ScanUnprocessed
// left off.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	var totalInserted int

	for batch := 0; batch < w.cfg.MaxBatches; batch++ {
		select {
		case <-ctx.Done():
			return totalInserted, ctx.Err()
		case <-w.stopCh:
			return totalInserted, nil
		default:
		}

		n, err := w.runBatch(ctx)
		if err != nil {
			w.logger.Error().Err(err).Int("batch", batch).Msg("migration batch failed, aborting run")
			return totalInserted, err
		}
		totalInserted += n
		if n < w.cfg.BatchSize {
			break
		}
	}

	w.logger.Info().Int("events", totalInserted).Dur("elapsed", time.Since(start)).Msg("migration run complete")
	return totalInserted, nil
}

func (w *Worker) runBatch(ctx context.Context) (int, error) {
	events, err := w.hotStore.ScanUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	ids, err := postgres.InsertBatchTx(ctx, tx, events)
	if err != nil {
		return 0, err
	}

	if err := w.aggregate.UpsertDeltaForEvents(ctx, tx, events); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	if err := w.hotStore.MarkProcessed(ctx, ids); err != nil {
		return 0, err
	}

	if w.onMigrated != nil {
		w.onMigrated(events)
	}

	return len(events), nil
}

// SetOnMigrated registers the post-commit hook. Must be called before Start.
func (w *Worker) SetOnMigrated(fn func(events []*domain.UsageEvent)) {
	w.onMigrated = fn
}
