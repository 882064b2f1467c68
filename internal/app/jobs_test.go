package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/store"
)

type jobsRepoStub struct {
	matured   []domain.Account
	listErr   error
	windows   [][2]time.Time
	enqueued  []store.OutboxEntry
	totals    store.LedgerTotals
	totalsErr error
}

func (r *jobsRepoStub) ListMaturedLoops(ctx context.Context, from, to time.Time) ([]domain.Account, error) {
	r.windows = append(r.windows, [2]time.Time{from, to})
	return r.matured, r.listErr
}

func (r *jobsRepoStub) LedgerTotals(ctx context.Context) (store.LedgerTotals, error) {
	return r.totals, r.totalsErr
}

func (r *jobsRepoStub) EnqueueEvent(ctx context.Context, event store.OutboxEntry) error {
	r.enqueued = append(r.enqueued, event)
	return nil
}

type totalsReporterStub struct {
	accounts int64
	values   map[string]float64
}

func (r *totalsReporterStub) SetLedgerTotals(accounts int64, values map[string]float64) {
	r.accounts = accounts
	r.values = values
}

func newTestJobs(repo JobsRepository, reporter TotalsReporter, start time.Time) *Jobs {
	j := NewJobs(repo, reporter, slog.New(slog.NewTextHandler(io.Discard, nil)), testExchange)
	j.lastRun = start
	return j
}

func TestNotifyMaturedLoops_AdvancesWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Second)
	repo := &jobsRepoStub{matured: []domain.Account{{ID: "a-1", LoopAmount: dec("100"), LoopEndTime: &end, LoopStatus: domain.LoopActive}}}
	j := newTestJobs(repo, nil, start)
	now := start.Add(time.Minute)
	j.now = func() time.Time { return now }

	j.NotifyMaturedLoops()
	if len(repo.enqueued) != 1 || repo.enqueued[0].RoutingKey != domain.RoutingKeyLoopMatured {
		t.Fatalf("expected one loop.matured event, got %+v", repo.enqueued)
	}

	repo.matured = nil
	now = now.Add(time.Minute)
	j.NotifyMaturedLoops()
	if len(repo.windows) != 2 || !repo.windows[1][0].Equal(start.Add(time.Minute)) {
		t.Fatalf("expected second window to start where the first ended, got %v", repo.windows)
	}
}

func TestNotifyMaturedLoops_KeepsWindowOnError(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &jobsRepoStub{listErr: errors.New("db down")}
	j := newTestJobs(repo, nil, start)
	j.now = func() time.Time { return start.Add(time.Minute) }

	j.NotifyMaturedLoops()
	if !j.lastRun.Equal(start) {
		t.Fatalf("expected lastRun to stay at %v, got %v", start, j.lastRun)
	}
}

func TestReportLedgerTotals(t *testing.T) {
	repo := &jobsRepoStub{totals: store.LedgerTotals{Accounts: 4, Balance: dec("10.50"), LoopAmount: dec("5"), SavingsBalance: dec("1"), TeamCommission: dec("0.25")}}
	reporter := &totalsReporterStub{}
	j := newTestJobs(repo, reporter, time.Now())

	j.ReportLedgerTotals()
	if reporter.accounts != 4 || reporter.values["balance"] != 10.5 || reporter.values["team_commission"] != 0.25 {
		t.Fatalf("unexpected totals %d %v", reporter.accounts, reporter.values)
	}
}
