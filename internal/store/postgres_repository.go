/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Account documents are rows of the accounts table; every multi-field write is a
 * compare-and-swap on the version column, and every event produced by a write is
 * inserted into event_outbox inside the same transaction.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

const accountColumns = `id, email, username, nickname, balance, loop_amount, loop_end_time, loop_status,
	loop_duration_days, savings_balance, last_savings_claim_at, referral_code, invited_by,
	team_commission, total_earnings, team_count, referral_clicks, is_blocked, is_admin,
	version, joined_at, updated_at`

const transactionColumns = `id::text, user_id, user_email, type, amount, address, status, created_at, resolved_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the ledger tables if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a          domain.Account
		loopStatus string
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.Username, &a.Nickname, &a.Balance, &a.LoopAmount, &a.LoopEndTime, &loopStatus,
		&a.LoopDurationDays, &a.SavingsBalance, &a.LastSavingsClaimAt, &a.ReferralCode, &a.InvitedBy,
		&a.TeamCommission, &a.TotalEarnings, &a.TeamCount, &a.ReferralClicks, &a.IsBlocked, &a.IsAdmin,
		&a.Version, &a.JoinedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	status, err := domain.ParseLoopStatus(loopStatus)
	if err != nil {
		return nil, err
	}
	a.LoopStatus = status
	return &a, nil
}

func scanAccounts(rows pgx.Rows) ([]domain.Account, error) {
	defer rows.Close()
	accounts := make([]domain.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t        domain.Transaction
		txType   string
		txStatus string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.UserEmail, &txType, &t.Amount, &t.Address, &txStatus, &t.CreatedAt, &t.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if t.Type, err = domain.ParseTransactionType(txType); err != nil {
		return nil, err
	}
	if t.Status, err = domain.ParseTransactionStatus(txStatus); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	out := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func mapAccountWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && strings.Contains(pgErr.ConstraintName, "email"):
		return ErrEmailTaken
	case pgErr.Code == pgUniqueViolation && strings.Contains(pgErr.ConstraintName, "referral_code"):
		return ErrReferralCodeTaken
	case pgErr.Code == pgCheckViolation:
		return ErrInsufficientFunds
	}
	return err
}

func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE LOWER(email) = LOWER($1)", strings.TrimSpace(email)))
}

func (r *PostgresRepository) FindAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE referral_code = $1", code))
}

func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account, cred *Credential, events ...OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`,
		account.ID, account.Email, account.Username, account.Nickname, account.Balance, account.LoopAmount,
		account.LoopEndTime, string(account.LoopStatus), account.LoopDurationDays, account.SavingsBalance,
		account.LastSavingsClaimAt, account.ReferralCode, account.InvitedBy, account.TeamCommission,
		account.TotalEarnings, account.TeamCount, account.ReferralClicks, account.IsBlocked, account.IsAdmin,
		account.Version, account.JoinedAt, account.UpdatedAt,
	)
	if err != nil {
		return mapAccountWriteError(err)
	}

	if cred != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO credentials (account_id, email, password_hash, password_changed_at)
			VALUES ($1, $2, $3, $4)
		`, account.ID, cred.Email, cred.PasswordHash, cred.PasswordChangedAt)
		if err != nil {
			return mapAccountWriteError(err)
		}
	}

	if account.InvitedBy != "" {
		if err := incrementTeamCountTx(ctx, tx, account.InvitedBy); err != nil {
			return err
		}
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateAccount(ctx context.Context, account *domain.Account, expectedVersion int64, events ...OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var newVersion int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET username = $3,
			nickname = $4,
			balance = $5,
			loop_amount = $6,
			loop_end_time = $7,
			loop_status = $8,
			loop_duration_days = $9,
			savings_balance = $10,
			last_savings_claim_at = $11,
			invited_by = $12,
			team_commission = $13,
			total_earnings = $14,
			is_blocked = $15,
			is_admin = $16,
			version = version + 1,
			updated_at = $17
		WHERE id = $1 AND version = $2
		RETURNING version
	`,
		account.ID, expectedVersion, account.Username, account.Nickname, account.Balance, account.LoopAmount,
		account.LoopEndTime, string(account.LoopStatus), account.LoopDurationDays, account.SavingsBalance,
		account.LastSavingsClaimAt, account.InvitedBy, account.TeamCommission, account.TotalEarnings,
		account.IsBlocked, account.IsAdmin, account.UpdatedAt,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrConflict(ctx, tx, account.ID, ErrVersionConflict)
		}
		return mapAccountWriteError(err)
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	account.Version = newVersion
	return nil
}

// missingOrConflict distinguishes "no such account" from a failed guard on an existing one.
func (r *PostgresRepository) missingOrConflict(ctx context.Context, tx pgx.Tx, id string, guardErr error) error {
	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrAccountNotFound
	}
	return guardErr
}

func (r *PostgresRepository) IncrementAccount(ctx context.Context, id string, delta AccountDelta) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2,
			team_commission = team_commission + $3,
			total_earnings = total_earnings + $4,
			team_count = team_count + $5,
			referral_clicks = referral_clicks + $6,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns,
		id, delta.Balance, delta.TeamCommission, delta.TotalEarnings, delta.TeamCount, delta.ReferralClicks,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, mapAccountWriteError(err)
	}
	return account, nil
}

func incrementTeamCountTx(ctx context.Context, tx pgx.Tx, inviterCode string) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts
		SET team_count = team_count + 1,
			version = version + 1,
			updated_at = NOW()
		WHERE referral_code = $1
	`, inviterCode)
	if err != nil {
		return fmt.Errorf("failed to increment team count: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetInvitedBy(ctx context.Context, id, inviterCode string) (*domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE accounts
		SET invited_by = $2,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND invited_by = ''
		RETURNING `+accountColumns, id, inviterCode))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, r.missingOrConflict(ctx, tx, id, ErrInviterAlreadyAssigned)
		}
		return nil, err
	}

	if err := incrementTeamCountTx(ctx, tx, inviterCode); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY joined_at DESC")
	if err != nil {
		return nil, err
	}
	return scanAccounts(rows)
}

func (r *PostgresRepository) ListInvitees(ctx context.Context, code string) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE invited_by = $1 ORDER BY joined_at DESC", code)
	if err != nil {
		return nil, err
	}
	return scanAccounts(rows)
}

func (r *PostgresRepository) ListMaturedLoops(ctx context.Context, from, to time.Time) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE loop_status = 'active' AND loop_end_time > $1 AND loop_end_time <= $2
		ORDER BY loop_end_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	return scanAccounts(rows)
}

func (r *PostgresRepository) LedgerTotals(ctx context.Context) (LedgerTotals, error) {
	var totals LedgerTotals
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(balance), 0),
			COALESCE(SUM(loop_amount), 0),
			COALESCE(SUM(savings_balance), 0),
			COALESCE(SUM(team_commission), 0)
		FROM accounts
	`).Scan(&totals.Accounts, &totals.Balance, &totals.LoopAmount, &totals.SavingsBalance, &totals.TeamCommission)
	return totals, err
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_transactions (id, user_id, user_email, type, amount, address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.UserID, t.UserEmail, string(t.Type), t.Amount, t.Address, string(t.Status), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *domain.Transaction, events ...OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertTransactionTx(ctx, tx, t); err != nil {
		return err
	}
	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) CreateWithdrawRequest(ctx context.Context, t *domain.Transaction, events ...OutboxEntry) (*domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Conditional debit: the row is only touched when the balance covers the amount.
	account, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $2,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING `+accountColumns, t.UserID, t.Amount))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, r.missingOrConflict(ctx, tx, t.UserID, ErrInsufficientFunds)
		}
		return nil, err
	}

	if err := insertTransactionTx(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, "SELECT "+transactionColumns+" FROM ledger_transactions WHERE id::text = $1", id))
}

func (r *PostgresRepository) ResolveTransaction(ctx context.Context, id string, res domain.Resolution, at time.Time, events ...OutboxEntry) (*domain.Transaction, *domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	resolved, err := scanTransaction(tx.QueryRow(ctx, `
		UPDATE ledger_transactions
		SET status = $2,
			resolved_at = $3
		WHERE id::text = $1 AND status = 'pending'
		RETURNING `+transactionColumns, id, string(res.Status()), at))
	if err != nil {
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, nil, err
		}
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE id::text = $1)", id).Scan(&exists); err != nil {
			return nil, nil, err
		}
		if exists {
			return nil, nil, ErrTransactionFinalized
		}
		return nil, nil, ErrTransactionNotFound
	}

	var account *domain.Account
	if credit := resolved.SettlementCredit(res); credit.IsPositive() {
		account, err = scanAccount(tx.QueryRow(ctx, `
			UPDATE accounts
			SET balance = balance + $2,
				version = version + 1,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+accountColumns, resolved.UserID, credit))
	} else {
		account, err = scanAccount(tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", resolved.UserID))
	}
	if err != nil {
		return nil, nil, err
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return resolved, account, nil
}

func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *PostgresRepository) PaidCommissionTiers(ctx context.Context, intentID string) (map[int]bool, error) {
	rows, err := r.db.Query(ctx, "SELECT tier FROM commission_payouts WHERE intent_id::text = $1", intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paid := make(map[int]bool)
	for rows.Next() {
		var tier int
		if err := rows.Scan(&tier); err != nil {
			return nil, err
		}
		paid[tier] = true
	}
	return paid, rows.Err()
}

func (r *PostgresRepository) ApplyCommissionCredit(ctx context.Context, payout domain.CommissionPayout, events ...OutboxEntry) (*domain.Account, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO commission_payouts (intent_id, tier, beneficiary_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (intent_id, tier) DO NOTHING
	`, payout.IntentID, payout.Tier, payout.BeneficiaryID, payout.Amount, payout.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record commission payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	account, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2,
			team_commission = team_commission + $2,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, payout.BeneficiaryID, payout.Amount))
	if err != nil {
		return nil, false, err
	}

	if err := enqueueEventsTx(ctx, tx, events); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return account, true, nil
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, event OutboxEntry) error {
	blob, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, strings.TrimSpace(event.Exchange), strings.TrimSpace(event.RoutingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

func enqueueEventsTx(ctx context.Context, tx pgx.Tx, events []OutboxEntry) error {
	for _, event := range events {
		if err := enqueueEventTx(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) EnqueueEvent(ctx context.Context, event OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := enqueueEventTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM event_outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts
	`

	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg         OutboxMessage
			payloadText string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payloadText, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payloadText)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > maxOutboxErrorLength {
		reason = reason[:maxOutboxErrorLength]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	if err := row.Scan(&c.AccountID, &c.Email, &c.PasswordHash, &c.PasswordChangedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) GetCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	return scanCredential(r.db.QueryRow(ctx, `
		SELECT account_id, email, password_hash, password_changed_at
		FROM credentials
		WHERE LOWER(email) = LOWER($1)
	`, strings.TrimSpace(email)))
}

func (r *PostgresRepository) GetCredential(ctx context.Context, accountID string) (*Credential, error) {
	return scanCredential(r.db.QueryRow(ctx, `
		SELECT account_id, email, password_hash, password_changed_at
		FROM credentials
		WHERE account_id = $1
	`, accountID))
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE credentials
		SET password_hash = $2,
			password_changed_at = $3
		WHERE account_id = $1
	`, accountID, passwordHash, changedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
