package domain

import "errors"

// Validation and precondition failures of the ledger transitions. The messages are
// shown to account holders as-is.
var (
	ErrAccountBlocked      = errors.New("account is blocked")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrAmountPrecision     = errors.New("amount must have at most two decimal places")
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrBelowLoopMinimum    = errors.New("amount is below the loop minimum")
	ErrAboveLoopMaximum    = errors.New("amount is above the loop maximum")
	ErrInvalidLoopDuration = errors.New("loop duration must be at least one day")
	ErrLoopAlreadyActive   = errors.New("a loop is already running")
	ErrLoopNotActive       = errors.New("no active loop")
	ErrLoopNotFinished     = errors.New("loop has not finished yet")

	ErrBelowSavingsMinimum = errors.New("amount is below the savings minimum")
	ErrAboveSavingsMaximum = errors.New("amount is above the savings maximum")
	ErrNoSavings           = errors.New("no savings to earn interest on")
	ErrSavingsClaimTooSoon = errors.New("interest can be claimed once every 24 hours")
	ErrInsufficientSavings = errors.New("insufficient savings balance")

	ErrBelowDepositMinimum  = errors.New("amount is below the minimum deposit")
	ErrBelowWithdrawMinimum = errors.New("amount is below the minimum withdrawal")
	ErrInvalidAddress       = errors.New("withdrawal address must be a BEP20 (0x) address")

	ErrUnknownTransactionType   = errors.New("unknown transaction type")
	ErrUnknownTransactionStatus = errors.New("unknown transaction status")
	ErrUnknownResolution        = errors.New("unknown resolution")
	ErrUnknownAdminAction       = errors.New("unknown admin action")
	ErrInvalidBalanceOverride   = errors.New("invalid balance override")

	ErrInvalidReferralCode = errors.New("invalid referral code")
	ErrSelfReferral        = errors.New("you cannot use your own referral code")
	ErrAlreadyReferred     = errors.New("account already has an inviter")
)
