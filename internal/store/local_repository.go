/**
 * @description
 * LocalRepository is the local-mode document store: one JSON blob per account,
 * keyed by email, plus shared JSON arrays for transactions, commission payouts and
 * the event outbox. Every write rewrites the affected files while holding a single
 * mutex, which gives the same atomicity the Postgres transactions provide. A write
 * whose files cannot be persisted is rolled back in memory and, best effort, on disk.
 *
 * @dependencies
 * - encoding/json, os, sync: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
)

const (
	localAccountsDir      = "accounts"
	localTransactionsFile = "transactions.json"
	localPayoutsFile      = "commission_payouts.json"
	localOutboxFile       = "outbox.json"
	localOutboxPending    = "pending"
	localOutboxProcessing = "processing"
)

// localAccountRecord is the blob stored per account.
type localAccountRecord struct {
	Account    domain.Account `json:"account"`
	Credential *Credential    `json:"credential,omitempty"`
}

type localOutboxRow struct {
	ID                  int64           `json:"id"`
	Exchange            string          `json:"exchange"`
	RoutingKey          string          `json:"routing_key"`
	Payload             json.RawMessage `json:"payload"`
	Status              string          `json:"status"`
	Attempts            int             `json:"attempts"`
	NextAttemptAt       time.Time       `json:"next_attempt_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	LastError           string          `json:"last_error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// LocalRepository implements Repository on top of JSON files in a directory.
type LocalRepository struct {
	mu  sync.Mutex
	dir string
	now func() time.Time

	records      map[string]*localAccountRecord // by lower-cased email
	emailByID    map[string]string
	transactions []domain.Transaction
	payouts      []domain.CommissionPayout
	outbox       []localOutboxRow
	nextOutboxID int64
}

// NewLocalRepository opens (or initialises) a local store rooted at dir.
func NewLocalRepository(dir string) (*LocalRepository, error) {
	r := &LocalRepository{
		dir:       dir,
		now:       time.Now,
		records:   make(map[string]*localAccountRecord),
		emailByID: make(map[string]string),
	}
	if err := os.MkdirAll(filepath.Join(dir, localAccountsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local data dir: %w", err)
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LocalRepository) load() error {
	entries, err := os.ReadDir(filepath.Join(r.dir, localAccountsDir))
	if err != nil {
		return fmt.Errorf("failed to list local accounts: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var rec localAccountRecord
		if err := readJSONFile(filepath.Join(r.dir, localAccountsDir, entry.Name()), &rec); err != nil {
			return err
		}
		key := emailKey(rec.Account.Email)
		r.records[key] = &rec
		r.emailByID[rec.Account.ID] = key
	}

	if err := readJSONFile(filepath.Join(r.dir, localTransactionsFile), &r.transactions); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := readJSONFile(filepath.Join(r.dir, localPayoutsFile), &r.payouts); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := readJSONFile(filepath.Join(r.dir, localOutboxFile), &r.outbox); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, row := range r.outbox {
		if row.ID > r.nextOutboxID {
			r.nextOutboxID = row.ID
		}
	}
	return nil
}

func readJSONFile(path string, v interface{}) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONFile replaces path atomically via a temp file and rename.
func writeJSONFile(path string, v interface{}) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *LocalRepository) accountPath(email string) string {
	return filepath.Join(r.dir, localAccountsDir, url.PathEscape(emailKey(email))+".json")
}

func (r *LocalRepository) persistAccount(rec *localAccountRecord) error {
	return writeJSONFile(r.accountPath(rec.Account.Email), rec)
}

func (r *LocalRepository) persistTransactions() error {
	return writeJSONFile(filepath.Join(r.dir, localTransactionsFile), r.transactions)
}

func (r *LocalRepository) persistPayouts() error {
	return writeJSONFile(filepath.Join(r.dir, localPayoutsFile), r.payouts)
}

func (r *LocalRepository) persistOutbox() error {
	return writeJSONFile(filepath.Join(r.dir, localOutboxFile), r.outbox)
}

func cloneAccount(a domain.Account) *domain.Account {
	out := a
	if a.LoopEndTime != nil {
		t := *a.LoopEndTime
		out.LoopEndTime = &t
	}
	if a.LastSavingsClaimAt != nil {
		t := *a.LastSavingsClaimAt
		out.LastSavingsClaimAt = &t
	}
	return &out
}

func cloneTransaction(t domain.Transaction) *domain.Transaction {
	out := t
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}

func (r *LocalRepository) recordByID(id string) (*localAccountRecord, error) {
	key, ok := r.emailByID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.records[key], nil
}

func (r *LocalRepository) recordByReferralCode(code string) *localAccountRecord {
	for _, rec := range r.records {
		if rec.Account.ReferralCode == code {
			return rec
		}
	}
	return nil
}

// stageEvents appends events to the in-memory outbox. The caller persists.
func (r *LocalRepository) stageEvents(events []OutboxEntry) error {
	now := r.now().UTC()
	for _, event := range events {
		blob, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to enqueue outbox event: %w", err)
		}
		r.nextOutboxID++
		r.outbox = append(r.outbox, localOutboxRow{
			ID:            r.nextOutboxID,
			Exchange:      strings.TrimSpace(event.Exchange),
			RoutingKey:    strings.TrimSpace(event.RoutingKey),
			Payload:       blob,
			Status:        localOutboxPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	}
	return nil
}

func (r *LocalRepository) flushEvents(events []OutboxEntry) error {
	if len(events) == 0 {
		return nil
	}
	return r.persistOutbox()
}

func (r *LocalRepository) bump(rec *localAccountRecord) {
	rec.Account.Version++
	rec.Account.UpdatedAt = r.now().UTC()
}

func cloneRecord(rec *localAccountRecord) *localAccountRecord {
	out := &localAccountRecord{Account: *cloneAccount(rec.Account)}
	if rec.Credential != nil {
		c := *rec.Credential
		out.Credential = &c
	}
	return out
}

// localWrite is the undo log of one write. Callers touch every record and
// transaction before changing it and return through fail on any error.
type localWrite struct {
	r            *LocalRepository
	accounts     map[string]*localAccountRecord // prior state by key; nil when created
	transactions map[int]domain.Transaction
	txLen        int
	payoutLen    int
	outbox       []localOutboxRow
	outboxDirty  bool
	nextOutboxID int64
}

func (r *LocalRepository) begin() *localWrite {
	return &localWrite{
		r:            r,
		accounts:     make(map[string]*localAccountRecord),
		transactions: make(map[int]domain.Transaction),
		txLen:        len(r.transactions),
		payoutLen:    len(r.payouts),
		outbox:       append([]localOutboxRow(nil), r.outbox...),
		nextOutboxID: r.nextOutboxID,
	}
}

func (w *localWrite) touch(rec *localAccountRecord) {
	key := emailKey(rec.Account.Email)
	if _, seen := w.accounts[key]; !seen {
		w.accounts[key] = cloneRecord(rec)
	}
}

func (w *localWrite) created(key string) {
	w.accounts[key] = nil
}

func (w *localWrite) touchTransaction(i int) {
	if _, seen := w.transactions[i]; !seen {
		w.transactions[i] = *cloneTransaction(w.r.transactions[i])
	}
}

func (w *localWrite) touchOutbox() {
	w.outboxDirty = true
}

// fail restores the state captured by begin, rewrites the files the write may
// already have replaced, and returns err.
func (w *localWrite) fail(err error) error {
	r := w.r
	for key, prior := range w.accounts {
		if prior == nil {
			if rec, ok := r.records[key]; ok {
				delete(r.emailByID, rec.Account.ID)
				delete(r.records, key)
			}
			if rmErr := os.Remove(r.accountPath(key)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				w.warn("account", rmErr)
			}
			continue
		}
		r.records[key] = prior
		r.emailByID[prior.Account.ID] = key
		if pErr := r.persistAccount(prior); pErr != nil {
			w.warn("account", pErr)
		}
	}

	if len(w.transactions) > 0 || len(r.transactions) != w.txLen {
		for i, t := range w.transactions {
			r.transactions[i] = t
		}
		r.transactions = r.transactions[:w.txLen]
		if pErr := r.persistTransactions(); pErr != nil {
			w.warn("transactions", pErr)
		}
	}
	if len(r.payouts) != w.payoutLen {
		r.payouts = r.payouts[:w.payoutLen]
		if pErr := r.persistPayouts(); pErr != nil {
			w.warn("payouts", pErr)
		}
	}
	if w.outboxDirty || len(r.outbox) != len(w.outbox) {
		r.outbox = w.outbox
		r.nextOutboxID = w.nextOutboxID
		if pErr := r.persistOutbox(); pErr != nil {
			w.warn("outbox", pErr)
		}
	}
	return err
}

func (w *localWrite) warn(file string, err error) {
	log.Printf("level=warn component=local_store msg=\"rollback could not restore file\" file=%s err=%v", file, err)
}

func (r *LocalRepository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.recordByID(id)
	if err != nil {
		return nil, err
	}
	return cloneAccount(rec.Account), nil
}

func (r *LocalRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[emailKey(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(rec.Account), nil
}

func (r *LocalRepository) FindAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.recordByReferralCode(code)
	if rec == nil {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(rec.Account), nil
}

func (r *LocalRepository) CreateAccount(ctx context.Context, account *domain.Account, cred *Credential, events ...OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := emailKey(account.Email)
	if _, exists := r.records[key]; exists {
		return ErrEmailTaken
	}
	if _, exists := r.emailByID[account.ID]; exists {
		return ErrEmailTaken
	}
	if r.recordByReferralCode(account.ReferralCode) != nil {
		return ErrReferralCodeTaken
	}

	rec := &localAccountRecord{Account: *cloneAccount(*account)}
	if cred != nil {
		c := *cred
		rec.Credential = &c
	}

	var inviter *localAccountRecord
	if account.InvitedBy != "" {
		inviter = r.recordByReferralCode(account.InvitedBy)
	}
	w := r.begin()
	if err := r.stageEvents(events); err != nil {
		return w.fail(err)
	}

	w.created(key)
	r.records[key] = rec
	r.emailByID[account.ID] = key
	if err := r.persistAccount(rec); err != nil {
		return w.fail(err)
	}
	if inviter != nil {
		w.touch(inviter)
		inviter.Account.TeamCount++
		r.bump(inviter)
		if err := r.persistAccount(inviter); err != nil {
			return w.fail(err)
		}
	}
	if err := r.flushEvents(events); err != nil {
		return w.fail(err)
	}
	return nil
}

func (r *LocalRepository) UpdateAccount(ctx context.Context, account *domain.Account, expectedVersion int64, events ...OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.recordByID(account.ID)
	if err != nil {
		return err
	}
	if rec.Account.Version != expectedVersion {
		return ErrVersionConflict
	}
	if account.Balance.IsNegative() || account.LoopAmount.IsNegative() || account.SavingsBalance.IsNegative() {
		return ErrInsufficientFunds
	}
	w := r.begin()
	if err := r.stageEvents(events); err != nil {
		return w.fail(err)
	}

	next := cloneAccount(*account)
	// Fields owned by atomic increments or immutable after creation.
	next.Email = rec.Account.Email
	next.ReferralCode = rec.Account.ReferralCode
	next.TeamCount = rec.Account.TeamCount
	next.ReferralClicks = rec.Account.ReferralClicks
	next.JoinedAt = rec.Account.JoinedAt
	next.Version = expectedVersion + 1
	w.touch(rec)
	rec.Account = *next

	if err := r.persistAccount(rec); err != nil {
		return w.fail(err)
	}
	if err := r.flushEvents(events); err != nil {
		return w.fail(err)
	}
	account.Version = next.Version
	return nil
}

func (r *LocalRepository) IncrementAccount(ctx context.Context, id string, delta AccountDelta) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.recordByID(id)
	if err != nil {
		return nil, err
	}
	if rec.Account.Balance.Add(delta.Balance).IsNegative() {
		return nil, ErrInsufficientFunds
	}
	w := r.begin()
	w.touch(rec)
	rec.Account.Balance = rec.Account.Balance.Add(delta.Balance)
	rec.Account.TeamCommission = rec.Account.TeamCommission.Add(delta.TeamCommission)
	rec.Account.TotalEarnings = rec.Account.TotalEarnings.Add(delta.TotalEarnings)
	rec.Account.TeamCount += delta.TeamCount
	rec.Account.ReferralClicks += delta.ReferralClicks
	r.bump(rec)
	if err := r.persistAccount(rec); err != nil {
		return nil, w.fail(err)
	}
	return cloneAccount(rec.Account), nil
}

func (r *LocalRepository) SetInvitedBy(ctx context.Context, id, inviterCode string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.recordByID(id)
	if err != nil {
		return nil, err
	}
	if rec.Account.InvitedBy != "" {
		return nil, ErrInviterAlreadyAssigned
	}
	w := r.begin()
	w.touch(rec)
	rec.Account.InvitedBy = inviterCode
	r.bump(rec)
	if err := r.persistAccount(rec); err != nil {
		return nil, w.fail(err)
	}
	if inviter := r.recordByReferralCode(inviterCode); inviter != nil {
		w.touch(inviter)
		inviter.Account.TeamCount++
		r.bump(inviter)
		if err := r.persistAccount(inviter); err != nil {
			return nil, w.fail(err)
		}
	}
	return cloneAccount(rec.Account), nil
}

func (r *LocalRepository) filterAccounts(keep func(domain.Account) bool) []domain.Account {
	out := make([]domain.Account, 0)
	for _, rec := range r.records {
		if keep(rec.Account) {
			out = append(out, *cloneAccount(rec.Account))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out
}

func (r *LocalRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterAccounts(func(domain.Account) bool { return true }), nil
}

func (r *LocalRepository) ListInvitees(ctx context.Context, code string) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterAccounts(func(a domain.Account) bool { return code != "" && a.InvitedBy == code }), nil
}

func (r *LocalRepository) ListMaturedLoops(ctx context.Context, from, to time.Time) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterAccounts(func(a domain.Account) bool {
		return a.LoopActive() && a.LoopEndTime.After(from) && !a.LoopEndTime.After(to)
	}), nil
}

func (r *LocalRepository) LedgerTotals(ctx context.Context) (LedgerTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var totals LedgerTotals
	for _, rec := range r.records {
		totals.Accounts++
		totals.Balance = totals.Balance.Add(rec.Account.Balance)
		totals.LoopAmount = totals.LoopAmount.Add(rec.Account.LoopAmount)
		totals.SavingsBalance = totals.SavingsBalance.Add(rec.Account.SavingsBalance)
		totals.TeamCommission = totals.TeamCommission.Add(rec.Account.TeamCommission)
	}
	return totals, nil
}

func (r *LocalRepository) CreateTransaction(ctx context.Context, t *domain.Transaction, events ...OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.recordByID(t.UserID); err != nil {
		return err
	}
	w := r.begin()
	if err := r.stageEvents(events); err != nil {
		return w.fail(err)
	}
	r.transactions = append(r.transactions, *cloneTransaction(*t))
	if err := r.persistTransactions(); err != nil {
		return w.fail(err)
	}
	if err := r.flushEvents(events); err != nil {
		return w.fail(err)
	}
	return nil
}

func (r *LocalRepository) CreateWithdrawRequest(ctx context.Context, t *domain.Transaction, events ...OutboxEntry) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.recordByID(t.UserID)
	if err != nil {
		return nil, err
	}
	if rec.Account.Balance.LessThan(t.Amount) {
		return nil, ErrInsufficientFunds
	}
	w := r.begin()
	if err := r.stageEvents(events); err != nil {
		return nil, w.fail(err)
	}

	w.touch(rec)
	rec.Account.Balance = rec.Account.Balance.Sub(t.Amount)
	r.bump(rec)
	r.transactions = append(r.transactions, *cloneTransaction(*t))
	if err := r.persistAccount(rec); err != nil {
		return nil, w.fail(err)
	}
	if err := r.persistTransactions(); err != nil {
		return nil, w.fail(err)
	}
	if err := r.flushEvents(events); err != nil {
		return nil, w.fail(err)
	}
	return cloneAccount(rec.Account), nil
}

func (r *LocalRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.transactions {
		if t.ID == id {
			return cloneTransaction(t), nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (r *LocalRepository) ResolveTransaction(ctx context.Context, id string, res domain.Resolution, at time.Time, events ...OutboxEntry) (*domain.Transaction, *domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := range r.transactions {
		if r.transactions[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, ErrTransactionNotFound
	}
	t := &r.transactions[idx]
	if t.Status != domain.TransactionPending {
		return nil, nil, ErrTransactionFinalized
	}
	rec, err := r.recordByID(t.UserID)
	if err != nil {
		return nil, nil, err
	}
	w := r.begin()
	if err := r.stageEvents(events); err != nil {
		return nil, nil, w.fail(err)
	}

	w.touchTransaction(idx)
	resolvedAt := at.UTC()
	t.Status = res.Status()
	t.ResolvedAt = &resolvedAt
	if credit := t.SettlementCredit(res); credit.IsPositive() {
		w.touch(rec)
		rec.Account.Balance = rec.Account.Balance.Add(credit)
		r.bump(rec)
		if err := r.persistAccount(rec); err != nil {
			return nil, nil, w.fail(err)
		}
	}
	if err := r.persistTransactions(); err != nil {
		return nil, nil, w.fail(err)
	}
	if err := r.flushEvents(events); err != nil {
		return nil, nil, w.fail(err)
	}
	return cloneTransaction(*t), cloneAccount(rec.Account), nil
}

func (r *LocalRepository) listTransactions(limit int, keep func(domain.Transaction) bool) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, t := range r.transactions {
		if keep(t) {
			out = append(out, *cloneTransaction(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *LocalRepository) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	return r.listTransactions(limit, func(t domain.Transaction) bool { return t.UserID == userID }), nil
}

func (r *LocalRepository) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	return r.listTransactions(limit, func(domain.Transaction) bool { return true }), nil
}

func (r *LocalRepository) PaidCommissionTiers(ctx context.Context, intentID string) (map[int]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	paid := make(map[int]bool)
	for _, p := range r.payouts {
		if p.IntentID == intentID {
			paid[p.Tier] = true
		}
	}
	return paid, nil
}

func (r *LocalRepository) ApplyCommissionCredit(ctx context.Context, payout domain.CommissionPayout, events ...OutboxEntry) (*domain.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payouts {
		if p.IntentID == payout.IntentID && p.Tier == payout.Tier {
			return nil, false, nil
		}
	}
	rec, err := r.recordByID(payout.BeneficiaryID)
	if err != nil {
		return nil, false, err
	}
	w := r.begin()
	if err := r.stageEvents(events); err != nil {
		return nil, false, w.fail(err)
	}

	w.touch(rec)
	r.payouts = append(r.payouts, payout)
	rec.Account.Balance = rec.Account.Balance.Add(payout.Amount)
	rec.Account.TeamCommission = rec.Account.TeamCommission.Add(payout.Amount)
	r.bump(rec)
	if err := r.persistPayouts(); err != nil {
		return nil, false, w.fail(err)
	}
	if err := r.persistAccount(rec); err != nil {
		return nil, false, w.fail(err)
	}
	if err := r.flushEvents(events); err != nil {
		return nil, false, w.fail(err)
	}
	return cloneAccount(rec.Account), true, nil
}

func (r *LocalRepository) EnqueueEvent(ctx context.Context, event OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := []OutboxEntry{event}
	w := r.begin()
	if err := r.stageEvents(events); err != nil {
		return w.fail(err)
	}
	if err := r.flushEvents(events); err != nil {
		return w.fail(err)
	}
	return nil
}

func (r *LocalRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}
	now := r.now().UTC()
	staleBefore := now.Add(-time.Duration(staleAfterSeconds) * time.Second)

	w := r.begin()
	w.touchOutbox()
	messages := make([]OutboxMessage, 0)
	for i := range r.outbox {
		if len(messages) >= limit {
			break
		}
		row := &r.outbox[i]
		claimable := (row.Status == localOutboxPending && !row.NextAttemptAt.After(now)) ||
			(row.Status == localOutboxProcessing && row.ProcessingStartedAt != nil && row.ProcessingStartedAt.Before(staleBefore))
		if !claimable {
			continue
		}
		started := now
		row.Status = localOutboxProcessing
		row.ProcessingStartedAt = &started
		row.Attempts++
		messages = append(messages, OutboxMessage{
			ID:         row.ID,
			Exchange:   row.Exchange,
			RoutingKey: row.RoutingKey,
			Payload:    append([]byte(nil), row.Payload...),
			Attempts:   row.Attempts,
		})
	}
	if len(messages) == 0 {
		return messages, nil
	}
	if err := r.persistOutbox(); err != nil {
		return nil, w.fail(err)
	}
	return messages, nil
}

// MarkOutboxPublished drops the row; local mode keeps no delivery history.
func (r *LocalRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].ID == id {
			w := r.begin()
			w.touchOutbox()
			r.outbox = append(r.outbox[:i:i], r.outbox[i+1:]...)
			if err := r.persistOutbox(); err != nil {
				return w.fail(err)
			}
			return nil
		}
	}
	return nil
}

func (r *LocalRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > maxOutboxErrorLength {
		reason = reason[:maxOutboxErrorLength]
	}
	w := r.begin()
	w.touchOutbox()
	for i := range r.outbox {
		row := &r.outbox[i]
		if row.ID != id {
			continue
		}
		row.Status = localOutboxPending
		row.NextAttemptAt = r.now().UTC().Add(time.Duration(retryAfterSeconds) * time.Second)
		row.ProcessingStartedAt = nil
		row.LastError = reason
		if err := r.persistOutbox(); err != nil {
			return w.fail(err)
		}
		return nil
	}
	return nil
}

func (r *LocalRepository) GetCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[emailKey(email)]
	if !ok || rec.Credential == nil {
		return nil, ErrCredentialNotFound
	}
	c := *rec.Credential
	return &c, nil
}

func (r *LocalRepository) GetCredential(ctx context.Context, accountID string) (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.recordByID(accountID)
	if err != nil || rec.Credential == nil {
		return nil, ErrCredentialNotFound
	}
	c := *rec.Credential
	return &c, nil
}

func (r *LocalRepository) UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.recordByID(accountID)
	if err != nil || rec.Credential == nil {
		return ErrCredentialNotFound
	}
	w := r.begin()
	w.touch(rec)
	rec.Credential.PasswordHash = passwordHash
	rec.Credential.PasswordChangedAt = changedAt.UTC()
	if err := r.persistAccount(rec); err != nil {
		return w.fail(err)
	}
	return nil
}

var _ Repository = (*LocalRepository)(nil)
