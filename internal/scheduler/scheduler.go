// Package scheduler is the deterministic trigger map that drives every
// background job: migration, reconciliation, cleanup, invoice generation,
// retries, reminders, alert evaluation, and exchange-rate sync. One job's
// failure never affects another's schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Cron expressions for the background-job trigger map, all UTC.
const (
	SpecMigration       = "*/5 * * * *"
	SpecReconciliation  = "0 2 * * *"
	SpecHESCleanup      = "0 3 * * *"
	SpecInvoiceGenerate = "0 2 1 * *"
	SpecPaymentRetry    = "0 */6 * * *"
	SpecAlertEvaluate   = "0 * * * *"
	SpecPaymentReminder = "0 9 * * *"
	SpecExchangeSync    = "0 1 * * *"
)

// Job is one scheduler-owned task. Run receives a context carrying the job's
// deadline and must release every resource it acquires on all exit paths.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler owns a robfig/cron/v3 instance running in UTC and wraps every
// registered job with a correlation id, a deadline, panic recovery, and
// error isolation, so one job's failure never affects another's schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds job to the cron schedule. Returns an error only if the cron
// spec itself is malformed; job failures at run time never propagate here.
func (s *Scheduler) Register(job Job) error {
	_, err := s.cron.AddFunc(job.Spec, s.wrap(job))
	return err
}

func (s *Scheduler) wrap(job Job) func() {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return func() {
		correlationID := uuid.NewString()
		logger := s.logger.With().Str("job", job.Name).Str("correlation_id", correlationID).Logger()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("scheduled job panicked")
			}
		}()

		start := time.Now()
		logger.Info().Msg("scheduled job starting")
		if err := job.Run(ctx); err != nil {
			logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("scheduled job failed")
			return
		}
		logger.Info().Dur("elapsed", time.Since(start)).Msg("scheduled job complete")
	}
}

// Start begins running registered jobs on their schedules. Non-blocking.
func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("starting scheduler")
	s.cron.Start()
}

// Stop cancels the schedule and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}
