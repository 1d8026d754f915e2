// Package scheduler triggers periodic maintenance in-process: the reservation
// expiry sweep, the monthly credit recovery and idempotency-record cleanup.
//
// Each task runs once at start and then on its own ticker. A run that is still
// in progress when the next tick arrives is not doubled up; the job-level
// locks in services report ErrJobRunning and the tick is skipped.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-circulation-backend/internal/config"
	"github.com/tbourn/go-circulation-backend/internal/services"
)

// Jobs is the part of services.MaintenanceService the scheduler drives.
type Jobs interface {
	ScanReservationExpiry(ctx context.Context, id services.Identity, opts services.RunOptions) (*services.JobResult, error)
	MonthlyCreditRecovery(ctx context.Context, id services.Identity, opts services.RunOptions) (*services.JobResult, error)
}

// Task is one periodic unit of work.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs a fixed set of tasks until its context is cancelled.
type Scheduler struct {
	tasks []Task
}

// New builds a scheduler for the two maintenance jobs using the intervals in
// cfg. Extra tasks (e.g. cleanup) are appended as given.
func New(jobs Jobs, cfg config.JobsConfig, extra ...Task) *Scheduler {
	opts := services.RunOptions{Trigger: services.TriggerScheduler}
	tasks := []Task{
		{
			Name:  services.JobReservationExpiry,
			Every: cfg.ExpirySweepInterval,
			Run: func(ctx context.Context) error {
				_, err := jobs.ScanReservationExpiry(ctx, services.SystemIdentity(), opts)
				return err
			},
		},
		{
			Name:  services.JobCreditRecovery,
			Every: cfg.CreditRecoveryInterval,
			Run: func(ctx context.Context) error {
				// Runs at most once per calendar month; restarts are harmless.
				_, err := jobs.MonthlyCreditRecovery(ctx, services.SystemIdentity(), opts)
				return err
			},
		},
	}
	return &Scheduler{tasks: append(tasks, extra...)}
}

// Tasks returns the configured tasks.
func (s *Scheduler) Tasks() []Task { return s.tasks }

// Run blocks until ctx is done. Task errors are logged, never returned, so
// one failing job does not stop the others.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		if t.Every <= 0 || t.Run == nil {
			log.Warn().Str("task", t.Name).Msg("scheduler: task disabled (no interval)")
			continue
		}
		g.Go(func() error {
			loop(ctx, t)
			return nil
		})
	}
	return g.Wait()
}

func loop(ctx context.Context, t Task) {
	log.Info().Str("task", t.Name).Dur("every", t.Every).Msg("scheduler: task started")

	tick := time.NewTicker(t.Every)
	defer tick.Stop()

	runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("task", t.Name).Msg("scheduler: task stopped")
			return
		case <-tick.C:
			runOnce(ctx, t)
		}
	}
}

func runOnce(ctx context.Context, t Task) {
	start := time.Now()
	err := t.Run(ctx)
	switch {
	case err == nil:
		log.Debug().Str("task", t.Name).Dur("took", time.Since(start)).Msg("scheduler: run ok")
	case errors.Is(err, services.ErrJobRunning):
		log.Debug().Str("task", t.Name).Msg("scheduler: previous run still in progress, skipping")
	case ctx.Err() != nil:
		// shutting down
	default:
		log.Error().Err(err).Str("task", t.Name).Msg("scheduler: run failed")
	}
}
