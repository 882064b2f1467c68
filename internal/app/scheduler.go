/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules are the cron specs of the jobs.
type Schedules struct {
	MaturedLoops string
	LedgerTotals string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedules.MaturedLoops, s.jobs.NotifyMaturedLoops); err != nil {
		s.logger.Error("failed to schedule matured loop job", "error", err)
	} else {
		s.logger.Info("scheduled matured loop job", "schedule", s.schedules.MaturedLoops)
	}

	if _, err := s.cron.AddFunc(s.schedules.LedgerTotals, s.jobs.ReportLedgerTotals); err != nil {
		s.logger.Error("failed to schedule ledger totals job", "error", err)
	} else {
		s.logger.Info("scheduled ledger totals job", "schedule", s.schedules.LedgerTotals)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
