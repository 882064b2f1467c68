/**
 * @description
 * Business rules of the ledger: deposit limits, yield rates and the referral
 * commission table. Values are fixed at startup and passed explicitly to every
 * transition so tests can run against alternate rule sets.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal arithmetic for money.
 */
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SavingsClaimGate controls whether savings interest may be claimed at most once per interval.
type SavingsClaimGate string

const (
	SavingsClaimGateDaily SavingsClaimGate = "daily"
	SavingsClaimGateOff   SavingsClaimGate = "off"
)

// ParseSavingsClaimGate maps configuration input onto a known gate.
func ParseSavingsClaimGate(raw string) (SavingsClaimGate, error) {
	switch SavingsClaimGate(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SavingsClaimGateDaily:
		return SavingsClaimGateDaily, nil
	case SavingsClaimGateOff:
		return SavingsClaimGateOff, nil
	default:
		return "", fmt.Errorf("unknown savings claim gate %q", raw)
	}
}

// Rules is the full parameter set of the ledger state machine.
type Rules struct {
	LoopMin       decimal.Decimal
	LoopMax       decimal.Decimal
	LoopDailyRate decimal.Decimal
	LoopPeriod    time.Duration

	SavingsMin           decimal.Decimal
	SavingsMax           decimal.Decimal
	SavingsDailyRate     decimal.Decimal
	SavingsClaimInterval time.Duration
	SavingsClaimGate     SavingsClaimGate

	MinDeposit  decimal.Decimal
	MinWithdraw decimal.Decimal

	// ReferralTiers[i] is the share paid to the i-th inviter up the chain.
	ReferralTiers []decimal.Decimal
}

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{
		LoopMin:              decimal.NewFromInt(10),
		LoopMax:              decimal.NewFromInt(5000),
		LoopDailyRate:        decimal.RequireFromString("0.05"),
		LoopPeriod:           24 * time.Hour,
		SavingsMin:           decimal.NewFromInt(10),
		SavingsMax:           decimal.NewFromInt(4000),
		SavingsDailyRate:     decimal.RequireFromString("0.10"),
		SavingsClaimInterval: 24 * time.Hour,
		SavingsClaimGate:     SavingsClaimGateDaily,
		MinDeposit:           decimal.NewFromInt(10),
		MinWithdraw:          decimal.NewFromInt(10),
		ReferralTiers: []decimal.Decimal{
			decimal.RequireFromString("0.13"),
			decimal.RequireFromString("0.05"),
			decimal.RequireFromString("0.03"),
			decimal.RequireFromString("0.02"),
			decimal.RequireFromString("0.01"),
		},
	}
}

// TierCommission is the credit owed to the inviter at depth tier for a base amount.
// Tiers outside the table pay nothing.
func (r Rules) TierCommission(tier int, base decimal.Decimal) decimal.Decimal {
	if tier < 0 || tier >= len(r.ReferralTiers) {
		return decimal.Zero
	}
	return roundMoney(base.Mul(r.ReferralTiers[tier]))
}

// CheckAmount rejects amounts that are not positive or carry sub-cent digits.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !isCents(amount) {
		return ErrAmountPrecision
	}
	return nil
}

func isCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// roundMoney rounds half away from zero to cents.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
