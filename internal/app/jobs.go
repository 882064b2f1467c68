/**
 * @description
 * Scheduled job implementations of the ledger.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/store"
)

const jobTimeout = 30 * time.Second

// JobsRepository defines the store operations needed by the jobs.
type JobsRepository interface {
	ListMaturedLoops(ctx context.Context, from, to time.Time) ([]domain.Account, error)
	LedgerTotals(ctx context.Context) (store.LedgerTotals, error)
	EnqueueEvent(ctx context.Context, event store.OutboxEntry) error
}

// TotalsReporter receives the ledger totals.
type TotalsReporter interface {
	SetLedgerTotals(accounts int64, values map[string]float64)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     JobsRepository
	reporter TotalsReporter
	logger   *slog.Logger
	exchange string
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// NewJobs creates a new Jobs runner. Loops that matured before startup are not announced.
func NewJobs(repo JobsRepository, reporter TotalsReporter, logger *slog.Logger, exchange string) *Jobs {
	return &Jobs{
		repo:     repo,
		reporter: reporter,
		logger:   logger,
		exchange: exchange,
		now:      time.Now,
		lastRun:  time.Now(),
	}
}

// NotifyMaturedLoops publishes loop.matured for loops that ended since the previous run.
func (j *Jobs) NotifyMaturedLoops() {
	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	to := j.now()
	accounts, err := j.repo.ListMaturedLoops(ctx, j.lastRun, to)
	if err != nil {
		j.logger.Error("failed to list matured loops", "error", err)
		return
	}

	notified := 0
	for _, account := range accounts {
		event := store.OutboxEntry{
			Exchange:   j.exchange,
			RoutingKey: domain.RoutingKeyLoopMatured,
			Payload: domain.LedgerEvent{
				AccountID:  account.ID,
				Email:      account.Email,
				Amount:     account.LoopAmount,
				OccurredAt: account.LoopEndTime.UTC(),
			},
		}
		if err := j.repo.EnqueueEvent(ctx, event); err != nil {
			j.logger.Error("failed to enqueue loop matured event", "account_id", account.ID, "error", err)
			return
		}
		notified++
	}
	j.lastRun = to
	if notified > 0 {
		j.logger.Info("matured loops announced", "count", notified)
	}
}

// ReportLedgerTotals refreshes the ledger gauges.
func (j *Jobs) ReportLedgerTotals() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	totals, err := j.repo.LedgerTotals(ctx)
	if err != nil {
		j.logger.Error("failed to load ledger totals", "error", err)
		return
	}
	if j.reporter != nil {
		j.reporter.SetLedgerTotals(totals.Accounts, map[string]float64{
			"balance":         totals.Balance.InexactFloat64(),
			"loop":            totals.LoopAmount.InexactFloat64(),
			"savings":         totals.SavingsBalance.InexactFloat64(),
			"team_commission": totals.TeamCommission.InexactFloat64(),
		})
	}
	j.logger.Info("ledger totals reported", "accounts", totals.Accounts, "balance", totals.Balance.StringFixed(2))
}
