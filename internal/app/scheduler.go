package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicflow/platform/internal/repository"
	"github.com/civicflow/platform/internal/service"
	"github.com/robfig/cron/v3"
)

// jobTimeout caps a single cron run so a stuck lock cannot stack runs.
const jobTimeout = 5 * time.Minute

// Jobs are the periodic maintenance tasks run by the worker.
type Jobs struct {
	Payments        *service.PaymentService
	Applications    *service.ApplicationService
	Outbox          repository.OutboxRepository
	DB              repository.DBTX
	PaymentTTL      time.Duration
	OutboxRetention time.Duration
	BatchSize       int
	Logger          *slog.Logger
}

// ExpireStalePayments fails gateway payments nobody completed in time.
func (j *Jobs) ExpireStalePayments() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.Payments.ExpireStale(ctx, j.PaymentTTL, j.BatchSize)
	if err != nil {
		j.Logger.Error("payment expiry job failed", "error", err)
		return
	}
	j.Logger.Debug("payment expiry job done", "expired", n)
}

// SweepSLA reports applications past their SLA due date.
func (j *Jobs) SweepSLA() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.Applications.SweepSLA(ctx, j.BatchSize)
	if err != nil {
		j.Logger.Error("sla sweep job failed", "error", err)
		return
	}
	if n > 0 {
		j.Logger.Info("sla sweep found breaches", "count", n)
	}
}

// PurgeOutbox deletes relayed outbox rows older than the retention window.
func (j *Jobs) PurgeOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.Outbox.PurgePublished(ctx, j.DB, time.Now().UTC().Add(-j.OutboxRetention))
	if err != nil {
		j.Logger.Error("outbox purge job failed", "error", err)
		return
	}
	if n > 0 {
		j.Logger.Info("purged published outbox rows", "count", n)
	}
}

// Schedules holds the cron specs of each job. An empty spec disables the job.
type Schedules struct {
	Expiry      string
	SLASweep    string
	OutboxPurge string
}

// Scheduler runs Jobs on their cron schedules.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	schedules Schedules
	logger    *slog.Logger
}

// NewScheduler creates a scheduler; panics inside a job are recovered and logged.
func NewScheduler(jobs *Jobs, schedules Schedules, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		jobs:      jobs,
		schedules: schedules,
		logger:    logger,
	}
}

// Start registers the jobs and starts the cron loop. An invalid spec is an
// error so a typo does not silently disable a job.
func (s *Scheduler) Start() error {
	entries := []struct {
		name string
		spec string
		fn   func()
	}{
		{"payment expiry", s.schedules.Expiry, s.jobs.ExpireStalePayments},
		{"sla sweep", s.schedules.SLASweep, s.jobs.SweepSLA},
		{"outbox purge", s.schedules.OutboxPurge, s.jobs.PurgeOutbox},
	}

	for _, e := range entries {
		if e.spec == "" {
			s.logger.Info("job disabled", "job", e.name)
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", e.name, e.spec, err)
		}
		s.logger.Info("scheduled job", "job", e.name, "schedule", e.spec)
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Len reports how many jobs are scheduled.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
