// Package services – MaintenanceService
//
// This file implements the two batch jobs: the reservation-expiry sweep and
// the monthly credit recovery. Each job holds a job-level lock and a lease row
// in job_leases, so two runs of the same job never overlap even across
// processes sharing the database; they run alongside borrow/return
// traffic and rely on the same per-entity locks. A failing row is logged and
// skipped, and every run is recorded as a JobRun.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

// Job names, also used as JobRun.Job and metric labels.
const (
	JobReservationExpiry = "reservation-expiry"
	JobCreditRecovery    = "credit-recovery"
)

// jobLeaseTTL bounds how long a crashed holder blocks a job.
const jobLeaseTTL = 30 * time.Minute

// Job triggers recorded on JobRun.
const (
	TriggerManual    = "manual"
	TriggerScheduler = "scheduler"
	TriggerCLI       = "cli"
)

// MaintenanceService runs the batch jobs.
type MaintenanceService struct {
	DB     *gorm.DB
	Now    func() time.Time
	Queue  *ReservationQueue
	Ledger *CreditLedger

	expiryMu   sync.Mutex
	recoveryMu sync.Mutex

	holderOnce sync.Once
	holder     string
}

// RunOptions controls one job run.
type RunOptions struct {
	Trigger string
	// Force runs credit recovery even if it already ran this calendar month.
	Force bool
}

// JobResult summarizes a run.
type JobResult struct {
	Job        string    `json:"job"`
	Affected   int       `json:"affected"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ScanReservationExpiry expires every allocated hold whose pickup window has
// passed (see ReservationQueue.ExpireStaleHolds) and returns the number of
// holds expired. Running it twice in a row is a no-op the second time.
func (s *MaintenanceService) ScanReservationExpiry(ctx context.Context, id Identity, opts RunOptions) (*JobResult, error) {
	if err := requireSystem(id); err != nil {
		return nil, err
	}
	return s.run(ctx, &s.expiryMu, JobReservationExpiry, opts, func(ctx context.Context, res *JobResult) error {
		out, err := s.Queue.ExpireStaleHolds(ctx, res.StartedAt)
		res.Affected, res.Failed = out.Expired, out.Failed
		return err
	})
}

// MonthlyCreditRecovery gives every reader below 100 credit +10 (clamped),
// reason "monthly recovery", operator "system". Unless opts.Force is set, a
// second run within the same UTC calendar month is skipped.
func (s *MaintenanceService) MonthlyCreditRecovery(ctx context.Context, id Identity, opts RunOptions) (*JobResult, error) {
	if err := requireSystem(id); err != nil {
		return nil, err
	}
	return s.run(ctx, &s.recoveryMu, JobCreditRecovery, opts, func(ctx context.Context, res *JobResult) error {
		if !opts.Force {
			done, err := s.ranThisMonth(ctx, res.StartedAt)
			if err != nil {
				return err
			}
			if done {
				res.Skipped = true
				return nil
			}
		}
		ids, err := repo.ListReaderIDsBelowCredit(ctx, s.DB, domain.MaxCredit)
		if err != nil {
			return err
		}
		for _, readerID := range ids {
			if _, err := s.Ledger.Apply(ctx, readerID, domain.MonthlyRecovery, domain.ReasonMonthly, domain.SystemOperator); err != nil {
				res.Failed++
				logger(ctx).Warn().Err(err).Str("reader_id", readerID).Msg("credit recovery skipped")
				continue
			}
			res.Affected++
		}
		return nil
	})
}

// ListRuns returns the most recent runs of job ("" for all jobs).
func (s *MaintenanceService) ListRuns(ctx context.Context, id Identity, job string, limit int) ([]domain.JobRun, error) {
	if err := requireSystem(id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return repo.ListJobRuns(ctx, s.DB, job, limit)
}

// run wraps a job body with the job lock and lease, tracing, metrics,
// logging and JobRun persistence.
func (s *MaintenanceService) run(ctx context.Context, mu *sync.Mutex, job string, opts RunOptions, body func(context.Context, *JobResult) error) (*JobResult, error) {
	if !mu.TryLock() {
		return nil, jobBusy(job)
	}
	defer mu.Unlock()

	holder := s.leaseHolder()
	now := clock(s.Now)
	ok, err := repo.AcquireJobLease(ctx, s.DB, job, holder, now, now.Add(jobLeaseTTL))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, jobBusy(job)
	}
	defer func() {
		if err := repo.ReleaseJobLease(context.WithoutCancel(ctx), s.DB, job, holder); err != nil {
			logger(ctx).Warn().Err(err).Str("job", job).Msg("job lease not released")
		}
	}()

	tr := otel.Tracer("services/MaintenanceService")
	ctx, span := tr.Start(ctx, job, trace.WithAttributes(attribute.String("trigger", opts.Trigger)))
	defer span.End()

	res := &JobResult{Job: job, StartedAt: now}
	err = body(ctx, res)
	res.FinishedAt = clock(s.Now)
	span.SetAttributes(attribute.Int("affected", res.Affected), attribute.Int("failed", res.Failed))

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case res.Failed > 0:
		result = "partial"
	}
	jobRuns.WithLabelValues(job, result).Inc()
	jobDuration.WithLabelValues(job).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	if err != nil {
		logger(ctx).Error().Err(err).Str("job", job).Msg("job failed")
		return nil, err
	}
	if res.Skipped {
		logger(ctx).Info().Str("job", job).Msg("job skipped: already ran this period")
		return res, nil
	}

	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	run := &domain.JobRun{
		Job:        job,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Affected:   res.Affected,
		Failed:     res.Failed,
		Trigger:    trigger,
	}
	if err := repo.CreateJobRun(ctx, s.DB, run); err != nil {
		logger(ctx).Warn().Err(err).Str("job", job).Msg("job run not recorded")
	}
	logger(ctx).Info().
		Str("job", job).
		Str("trigger", trigger).
		Int("affected", res.Affected).
		Int("failed", res.Failed).
		Msg("job finished")
	return res, nil
}

func jobBusy(job string) error {
	jobRuns.WithLabelValues(job, "busy").Inc()
	return &Error{Kind: ErrJobRunning, Message: job + " is already running", Details: map[string]any{"job": job}}
}

// leaseHolder identifies this service instance in job_leases.
func (s *MaintenanceService) leaseHolder() string {
	s.holderOnce.Do(func() { s.holder = uuid.NewString() })
	return s.holder
}

// ranThisMonth reports whether credit recovery already completed in the
// calendar month of now.
func (s *MaintenanceService) ranThisMonth(ctx context.Context, now time.Time) (bool, error) {
	runs, err := repo.ListJobRuns(ctx, s.DB, JobCreditRecovery, 1)
	if err != nil {
		return false, err
	}
	if len(runs) == 0 {
		return false, nil
	}
	last := runs[0].StartedAt.UTC()
	return last.Year() == now.Year() && last.Month() == now.Month(), nil
}

// IsJobRunning reports whether err is a job-lock rejection.
func IsJobRunning(err error) bool { return errors.Is(err, ErrJobRunning) }
