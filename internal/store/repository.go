/**
 * @description
 * This file defines the `Repository` interface: the document-store contract the
 * ledger depends on. Two implementations exist, PostgresRepository for live mode
 * and LocalRepository (JSON files on disk) for local mode.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/shopspring/decimal: money deltas.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrEmailTaken             = errors.New("email already registered")
	ErrReferralCodeTaken      = errors.New("referral code already in use")
	ErrVersionConflict        = errors.New("account was modified concurrently")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrTransactionFinalized   = errors.New("transaction already resolved")
	ErrCredentialNotFound     = errors.New("credential not found")
	ErrInviterAlreadyAssigned = errors.New("inviter already assigned")
)

// maxOutboxErrorLength caps the stored delivery error of an outbox row.
const maxOutboxErrorLength = 2000

// OutboxEntry is an event written in the same atomic write as the ledger change
// that produced it.
type OutboxEntry struct {
	Exchange   string
	RoutingKey string
	Payload    interface{}
}

// OutboxMessage is a claimed outbox row awaiting delivery.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// AccountDelta is applied with atomic increments; zero fields are left alone.
type AccountDelta struct {
	Balance        decimal.Decimal
	TeamCommission decimal.Decimal
	TotalEarnings  decimal.Decimal
	TeamCount      int64
	ReferralClicks int64
}

// Credential is the password record of an account.
type Credential struct {
	AccountID         string
	Email             string
	PasswordHash      string
	PasswordChangedAt time.Time
}

// LedgerTotals aggregates the money pools across all accounts.
type LedgerTotals struct {
	Accounts       int64
	Balance        decimal.Decimal
	LoopAmount     decimal.Decimal
	SavingsBalance decimal.Decimal
	TeamCommission decimal.Decimal
}

// Repository defines the set of methods for interacting with the document store.
type Repository interface {
	// Account methods
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error)
	// CreateAccount stores a new account and, when cred is non-nil, its credential.
	// A non-empty InvitedBy increments the inviter's team count in the same write.
	CreateAccount(ctx context.Context, account *domain.Account, cred *Credential, events ...OutboxEntry) error
	// UpdateAccount writes every field of account if the stored version still equals
	// expectedVersion, then bumps account.Version. Returns ErrVersionConflict otherwise.
	UpdateAccount(ctx context.Context, account *domain.Account, expectedVersion int64, events ...OutboxEntry) error
	IncrementAccount(ctx context.Context, id string, delta AccountDelta) (*domain.Account, error)
	// SetInvitedBy assigns the inviter of id once and increments the inviter's team count.
	SetInvitedBy(ctx context.Context, id, inviterCode string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListInvitees(ctx context.Context, code string) ([]domain.Account, error)
	ListMaturedLoops(ctx context.Context, from, to time.Time) ([]domain.Account, error)
	LedgerTotals(ctx context.Context) (LedgerTotals, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction, events ...OutboxEntry) error
	// CreateWithdrawRequest debits tx.Amount only if the balance covers it and records
	// the pending request in the same write.
	CreateWithdrawRequest(ctx context.Context, tx *domain.Transaction, events ...OutboxEntry) (*domain.Account, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	// ResolveTransaction moves a pending request to its terminal status and applies the
	// settlement credit. Returns ErrTransactionFinalized if it is no longer pending.
	ResolveTransaction(ctx context.Context, id string, res domain.Resolution, at time.Time, events ...OutboxEntry) (*domain.Transaction, *domain.Account, error)
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)

	// Commission methods
	PaidCommissionTiers(ctx context.Context, intentID string) (map[int]bool, error)
	// ApplyCommissionCredit records payout and credits the beneficiary in one write.
	// applied is false when (IntentID, Tier) was already paid.
	ApplyCommissionCredit(ctx context.Context, payout domain.CommissionPayout, events ...OutboxEntry) (account *domain.Account, applied bool, err error)

	// Outbox methods
	EnqueueEvent(ctx context.Context, event OutboxEntry) error
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error

	// Credential methods
	GetCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	GetCredential(ctx context.Context, accountID string) (*Credential, error)
	UpdatePassword(ctx context.Context, accountID, passwordHash string, changedAt time.Time) error
}
