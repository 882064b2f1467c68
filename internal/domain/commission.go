package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionTrigger names the ledger operation that produced a commission intent.
type CommissionTrigger string

const (
	TriggerLoopStart      CommissionTrigger = "loop_start"
	TriggerSavingsDeposit CommissionTrigger = "savings_deposit"
)

// ParseCommissionTrigger decodes a trigger carried in an intent payload.
func ParseCommissionTrigger(raw string) (CommissionTrigger, error) {
	switch CommissionTrigger(raw) {
	case TriggerLoopStart, TriggerSavingsDeposit:
		return CommissionTrigger(raw), nil
	default:
		return "", fmt.Errorf("unknown commission trigger %q", raw)
	}
}

// CommissionIntent records that a tier walk is owed for a base amount. IntentID
// is the dedup key for every credit the walk produces.
type CommissionIntent struct {
	IntentID        string            `json:"intent_id"`
	SourceAccountID string            `json:"source_account_id"`
	InviterCode     string            `json:"inviter_code"`
	BaseAmount      decimal.Decimal   `json:"base_amount"`
	Trigger         CommissionTrigger `json:"trigger"`
	CreatedAt       time.Time         `json:"created_at"`
}

// NewCommissionIntent returns the intent owed for amount, or false when the
// account has no inviter.
func NewCommissionIntent(source Account, amount decimal.Decimal, trigger CommissionTrigger, now time.Time) (CommissionIntent, bool) {
	if source.InvitedBy == "" || !amount.IsPositive() {
		return CommissionIntent{}, false
	}
	return CommissionIntent{
		IntentID:        uuid.NewString(),
		SourceAccountID: source.ID,
		InviterCode:     source.InvitedBy,
		BaseAmount:      amount,
		Trigger:         trigger,
		CreatedAt:       now.UTC(),
	}, true
}

// CommissionPayout is one tier credit of a walk. (IntentID, Tier) is unique.
type CommissionPayout struct {
	IntentID      string          `json:"intent_id"`
	Tier          int             `json:"tier"`
	BeneficiaryID string          `json:"beneficiary_id"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
