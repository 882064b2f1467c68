package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LoopStatus is the state of an account's fixed-term deposit.
type LoopStatus string

const (
	LoopIdle   LoopStatus = "idle"
	LoopActive LoopStatus = "active"
)

// ParseLoopStatus decodes a stored loop status; empty values are treated as idle.
func ParseLoopStatus(raw string) (LoopStatus, error) {
	switch LoopStatus(strings.TrimSpace(raw)) {
	case "", LoopIdle:
		return LoopIdle, nil
	case LoopActive:
		return LoopActive, nil
	default:
		return "", fmt.Errorf("unknown loop status %q", raw)
	}
}

// Account is the denormalised ledger document of a single holder.
type Account struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`

	Balance decimal.Decimal `json:"balance"`

	LoopAmount       decimal.Decimal `json:"loopAmount"`
	LoopEndTime      *time.Time      `json:"loopEndTime"`
	LoopStatus       LoopStatus      `json:"loopStatus"`
	LoopDurationDays int             `json:"loopDuration"`

	SavingsBalance     decimal.Decimal `json:"savingsBalance"`
	LastSavingsClaimAt *time.Time      `json:"lastSavingsClaim"`

	ReferralCode   string          `json:"referralCode"`
	InvitedBy      string          `json:"invitedBy,omitempty"`
	TeamCommission decimal.Decimal `json:"teamCommission"`
	TotalEarnings  decimal.Decimal `json:"totalEarnings"`
	TeamCount      int64           `json:"teamCount"`
	ReferralClicks int64           `json:"referralClicks"`

	IsBlocked bool `json:"isBlocked"`
	IsAdmin   bool `json:"isAdmin"`

	Version   int64     `json:"version"`
	JoinedAt  time.Time `json:"joinedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAccount builds a zeroed account document as created at sign-up.
func NewAccount(id, email, referralCode, invitedBy string, isAdmin bool, now time.Time) Account {
	email = strings.ToLower(strings.TrimSpace(email))
	username := email
	if at := strings.Index(email, "@"); at > 0 {
		username = email[:at]
	}
	return Account{
		ID:             id,
		Email:          email,
		Username:       username,
		Balance:        decimal.Zero,
		LoopAmount:     decimal.Zero,
		LoopStatus:     LoopIdle,
		SavingsBalance: decimal.Zero,
		ReferralCode:   referralCode,
		InvitedBy:      invitedBy,
		TeamCommission: decimal.Zero,
		TotalEarnings:  decimal.Zero,
		IsAdmin:        isAdmin,
		Version:        1,
		JoinedAt:       now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

// LoopActive reports whether a fixed-term deposit is outstanding.
func (a Account) LoopActive() bool {
	return a.LoopStatus == LoopActive && a.LoopAmount.IsPositive() && a.LoopEndTime != nil
}

func (a Account) ensureUsable() error {
	if a.IsBlocked {
		return ErrAccountBlocked
	}
	return nil
}

func (a *Account) resetLoop() {
	a.LoopAmount = decimal.Zero
	a.LoopEndTime = nil
	a.LoopStatus = LoopIdle
	a.LoopDurationDays = 0
}
