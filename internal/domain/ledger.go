/**
 * @description
 * Pure state transitions of the account ledger: the loop (fixed-term deposit)
 * and the savings box. Each transition validates every precondition before it
 * touches the account, so a returned error always means "no mutation".
 */
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LoopPayout is the result of claiming a matured loop.
type LoopPayout struct {
	Principal decimal.Decimal `json:"principal"`
	Profit    decimal.Decimal `json:"profit"`
	Total     decimal.Decimal `json:"total"`
}

// StartLoop moves amount from the balance into a loop of days whole days.
func StartLoop(a *Account, r Rules, amount decimal.Decimal, days int, now time.Time) error {
	if err := a.ensureUsable(); err != nil {
		return err
	}
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if amount.LessThan(r.LoopMin) {
		return fmt.Errorf("%w: minimum is $%s", ErrBelowLoopMinimum, r.LoopMin.StringFixed(2))
	}
	if amount.GreaterThan(r.LoopMax) {
		return fmt.Errorf("%w: maximum is $%s", ErrAboveLoopMaximum, r.LoopMax.StringFixed(2))
	}
	if days < 1 {
		return ErrInvalidLoopDuration
	}
	if a.LoopActive() {
		return ErrLoopAlreadyActive
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	end := now.UTC().Add(time.Duration(days) * r.LoopPeriod)
	a.Balance = a.Balance.Sub(amount)
	a.LoopAmount = a.LoopAmount.Add(amount)
	a.LoopEndTime = &end
	a.LoopStatus = LoopActive
	a.LoopDurationDays = days
	return nil
}

// ClaimLoop pays out principal plus simple daily profit once the loop has matured.
func ClaimLoop(a *Account, r Rules, now time.Time) (LoopPayout, error) {
	if err := a.ensureUsable(); err != nil {
		return LoopPayout{}, err
	}
	if !a.LoopActive() {
		return LoopPayout{}, ErrLoopNotActive
	}
	if now.Before(*a.LoopEndTime) {
		return LoopPayout{}, ErrLoopNotFinished
	}

	days := a.LoopDurationDays
	if days < 1 {
		days = 1
	}
	principal := a.LoopAmount
	profit := roundMoney(principal.Mul(r.LoopDailyRate).Mul(decimal.NewFromInt(int64(days))))
	total := principal.Add(profit)

	a.Balance = a.Balance.Add(total)
	a.TotalEarnings = a.TotalEarnings.Add(profit)
	a.resetLoop()
	return LoopPayout{Principal: principal, Profit: profit, Total: total}, nil
}

// DepositSavings moves amount from the balance into the savings box.
func DepositSavings(a *Account, r Rules, amount decimal.Decimal, now time.Time) error {
	if err := a.ensureUsable(); err != nil {
		return err
	}
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if amount.LessThan(r.SavingsMin) {
		return fmt.Errorf("%w: minimum is $%s", ErrBelowSavingsMinimum, r.SavingsMin.StringFixed(2))
	}
	if amount.GreaterThan(r.SavingsMax) {
		return fmt.Errorf("%w: maximum is $%s", ErrAboveSavingsMaximum, r.SavingsMax.StringFixed(2))
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	at := now.UTC()
	a.Balance = a.Balance.Sub(amount)
	a.SavingsBalance = a.SavingsBalance.Add(amount)
	a.LastSavingsClaimAt = &at
	return nil
}

// ClaimSavingsInterest credits the daily rate on the current principal.
// Interest is flat on principal and never compounds into savings.
func ClaimSavingsInterest(a *Account, r Rules, now time.Time) (decimal.Decimal, error) {
	if err := a.ensureUsable(); err != nil {
		return decimal.Zero, err
	}
	if !a.SavingsBalance.IsPositive() {
		return decimal.Zero, ErrNoSavings
	}
	if r.SavingsClaimGate != SavingsClaimGateOff && a.LastSavingsClaimAt != nil {
		if now.Sub(*a.LastSavingsClaimAt) < r.SavingsClaimInterval {
			return decimal.Zero, ErrSavingsClaimTooSoon
		}
	}

	interest := roundMoney(a.SavingsBalance.Mul(r.SavingsDailyRate))
	at := now.UTC()
	a.Balance = a.Balance.Add(interest)
	a.TotalEarnings = a.TotalEarnings.Add(interest)
	a.LastSavingsClaimAt = &at
	return interest, nil
}

// WithdrawSavings returns amount from the savings box to the balance.
func WithdrawSavings(a *Account, amount decimal.Decimal) error {
	if err := a.ensureUsable(); err != nil {
		return err
	}
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if amount.GreaterThan(a.SavingsBalance) {
		return ErrInsufficientSavings
	}
	a.Balance = a.Balance.Add(amount)
	a.SavingsBalance = a.SavingsBalance.Sub(amount)
	return nil
}
