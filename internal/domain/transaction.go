package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType distinguishes deposit and withdraw requests.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
)

// ParseTransactionType decodes a stored or requested transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(raw))) {
	case TransactionDeposit:
		return TransactionDeposit, nil
	case TransactionWithdraw:
		return TransactionWithdraw, nil
	default:
		return "", ErrUnknownTransactionType
	}
}

// TransactionStatus is pending until an administrator resolves the request.
type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "pending"
	TransactionApproved TransactionStatus = "approved"
	TransactionRejected TransactionStatus = "rejected"
)

// ParseTransactionStatus decodes a stored transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case TransactionPending:
		return TransactionPending, nil
	case TransactionApproved:
		return TransactionApproved, nil
	case TransactionRejected:
		return TransactionRejected, nil
	default:
		return "", ErrUnknownTransactionStatus
	}
}

// IsTerminal reports whether the status can no longer change.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionApproved || s == TransactionRejected
}

// Resolution is an administrator's decision on a pending request.
type Resolution string

const (
	ResolutionApprove Resolution = "approve"
	ResolutionReject  Resolution = "reject"
)

// ParseResolution decodes an administrator decision.
func ParseResolution(raw string) (Resolution, error) {
	switch Resolution(strings.ToLower(strings.TrimSpace(raw))) {
	case ResolutionApprove:
		return ResolutionApprove, nil
	case ResolutionReject:
		return ResolutionReject, nil
	default:
		return "", ErrUnknownResolution
	}
}

// Status is the terminal status a resolution moves a request to.
func (r Resolution) Status() TransactionStatus {
	if r == ResolutionApprove {
		return TransactionApproved
	}
	return TransactionRejected
}

// Transaction is an append-only deposit or withdraw request.
type Transaction struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	UserEmail  string            `json:"userEmail"`
	Type       TransactionType   `json:"type"`
	Amount     decimal.Decimal   `json:"amount"`
	Address    string            `json:"address,omitempty"`
	Status     TransactionStatus `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty"`
}

// SettlementCredit is the amount credited back to the requester when the request
// is resolved with res. Approved deposits credit the amount, rejected withdrawals
// refund the debit taken at request time, everything else moves no money.
func (t Transaction) SettlementCredit(res Resolution) decimal.Decimal {
	switch {
	case t.Type == TransactionDeposit && res == ResolutionApprove:
		return t.Amount
	case t.Type == TransactionWithdraw && res == ResolutionReject:
		return t.Amount
	default:
		return decimal.Zero
	}
}

// ValidAddress reports whether addr is a BEP20 address. BEP20 shares the
// Ethereum address format; the 0x prefix is required.
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

// NewDepositRequest validates and builds a pending deposit. It has no balance effect.
func NewDepositRequest(a Account, r Rules, amount decimal.Decimal, now time.Time) (Transaction, error) {
	if err := a.ensureUsable(); err != nil {
		return Transaction{}, err
	}
	if err := CheckAmount(amount); err != nil {
		return Transaction{}, err
	}
	if amount.LessThan(r.MinDeposit) {
		return Transaction{}, ErrBelowDepositMinimum
	}
	return newTransaction(a, TransactionDeposit, amount, "", now), nil
}

// NewWithdrawRequest validates and builds a pending withdrawal. The caller debits
// the balance in the same write that records the request.
func NewWithdrawRequest(a Account, r Rules, amount decimal.Decimal, address string, now time.Time) (Transaction, error) {
	if err := a.ensureUsable(); err != nil {
		return Transaction{}, err
	}
	if err := CheckAmount(amount); err != nil {
		return Transaction{}, err
	}
	if amount.LessThan(r.MinWithdraw) {
		return Transaction{}, ErrBelowWithdrawMinimum
	}
	if !ValidAddress(address) {
		return Transaction{}, ErrInvalidAddress
	}
	if a.Balance.LessThan(amount) {
		return Transaction{}, ErrInsufficientBalance
	}
	return newTransaction(a, TransactionWithdraw, amount, strings.TrimSpace(address), now), nil
}

func newTransaction(a Account, kind TransactionType, amount decimal.Decimal, address string, now time.Time) Transaction {
	return Transaction{
		ID:        uuid.NewString(),
		UserID:    a.ID,
		UserEmail: a.Email,
		Type:      kind,
		Amount:    amount,
		Address:   address,
		Status:    TransactionPending,
		CreatedAt: now.UTC(),
	}
}
