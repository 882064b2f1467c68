package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys of events published on the ledger exchange.
const (
	RoutingKeyCommissionIntent       = "commission.intent.created"
	RoutingKeyCommissionPaid         = "commission.paid"
	RoutingKeyLoopStarted            = "loop.started"
	RoutingKeyLoopClaimed            = "loop.claimed"
	RoutingKeyLoopMatured            = "loop.matured"
	RoutingKeySavingsDeposited       = "savings.deposited"
	RoutingKeySavingsInterestClaimed = "savings.interest_claimed"
	RoutingKeySavingsWithdrawn       = "savings.withdrawn"
	RoutingKeyTransactionRequested   = "transaction.requested"
	RoutingKeyTransactionApproved    = "transaction.approved"
	RoutingKeyTransactionRejected    = "transaction.rejected"
	RoutingKeyAccountAdminAction     = "account.admin_action"
	RoutingKeyPasswordResetRequested = "identity.password_reset.requested"
)

// LedgerEvent is the payload of every account-level ledger event.
type LedgerEvent struct {
	AccountID     string          `json:"account_id"`
	Email         string          `json:"email,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Profit        decimal.Decimal `json:"profit"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// PasswordResetRequested asks the notification pipeline to email a reset link.
type PasswordResetRequested struct {
	AccountID  string    `json:"account_id"`
	Email      string    `json:"email"`
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}
