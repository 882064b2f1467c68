package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AdminAction is the closed set of administrator account operations.
type AdminAction string

const (
	AdminBlock         AdminAction = "block"
	AdminUnblock       AdminAction = "unblock"
	AdminResetBalance  AdminAction = "reset_balance"
	AdminUpdateBalance AdminAction = "update_balance"
)

// ParseAdminAction decodes a requested admin action.
func ParseAdminAction(raw string) (AdminAction, error) {
	switch AdminAction(strings.ToLower(strings.TrimSpace(raw))) {
	case AdminBlock:
		return AdminBlock, nil
	case AdminUnblock:
		return AdminUnblock, nil
	case AdminResetBalance:
		return AdminResetBalance, nil
	case AdminUpdateBalance:
		return AdminUpdateBalance, nil
	default:
		return "", ErrUnknownAdminAction
	}
}

// BalanceOverride carries the pool values set by update_balance.
type BalanceOverride struct {
	Balance        decimal.Decimal `json:"balance"`
	LoopAmount     decimal.Decimal `json:"loopAmount"`
	SavingsBalance decimal.Decimal `json:"savingsBalance"`
}

func (o BalanceOverride) valid() bool {
	for _, d := range []decimal.Decimal{o.Balance, o.LoopAmount, o.SavingsBalance} {
		if d.IsNegative() || !isCents(d) {
			return false
		}
	}
	return true
}

// ApplyAdminAction mutates a according to action. override is required for
// update_balance and ignored otherwise.
func ApplyAdminAction(a *Account, action AdminAction, override *BalanceOverride) error {
	switch action {
	case AdminBlock:
		a.IsBlocked = true
	case AdminUnblock:
		a.IsBlocked = false
	case AdminResetBalance:
		a.Balance = decimal.Zero
		a.SavingsBalance = decimal.Zero
		a.resetLoop()
	case AdminUpdateBalance:
		if override == nil || !override.valid() {
			return ErrInvalidBalanceOverride
		}
		// A loop amount only makes sense while a loop is running.
		if override.LoopAmount.IsPositive() && !a.LoopActive() {
			return ErrInvalidBalanceOverride
		}
		a.Balance = override.Balance
		a.SavingsBalance = override.SavingsBalance
		if override.LoopAmount.IsZero() {
			a.resetLoop()
		} else {
			a.LoopAmount = override.LoopAmount
		}
	default:
		return ErrUnknownAdminAction
	}
	return nil
}
