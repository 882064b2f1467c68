package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fundedAccount(balance string) Account {
	a := NewAccount("acc-1", "holder@example.com", "BN000001", "", false, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a.Balance = dec(balance)
	return a
}

func TestStartLoop_MovesBalanceIntoLoop(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := fundedAccount("500")

	if err := StartLoop(&a, DefaultRules(), dec("100"), 3, now); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !a.Balance.Equal(dec("400")) {
		t.Fatalf("expected balance 400, got %s", a.Balance)
	}
	if !a.LoopAmount.Equal(dec("100")) {
		t.Fatalf("expected loop amount 100, got %s", a.LoopAmount)
	}
	if a.LoopStatus != LoopActive || a.LoopDurationDays != 3 {
		t.Fatalf("expected active 3-day loop, got status=%s days=%d", a.LoopStatus, a.LoopDurationDays)
	}
	if want := now.Add(72 * time.Hour); a.LoopEndTime == nil || !a.LoopEndTime.Equal(want) {
		t.Fatalf("expected end time %s, got %v", want, a.LoopEndTime)
	}
}

func TestStartLoop_RejectsWithoutMutation(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		balance string
		amount  string
		days    int
		blocked bool
		want    error
	}{
		{name: "below minimum", balance: "500", amount: "9.99", days: 1, want: ErrBelowLoopMinimum},
		{name: "above maximum", balance: "10000", amount: "5000.01", days: 1, want: ErrAboveLoopMaximum},
		{name: "zero days", balance: "500", amount: "100", days: 0, want: ErrInvalidLoopDuration},
		{name: "insufficient balance", balance: "50", amount: "100", days: 1, want: ErrInsufficientBalance},
		{name: "blocked", balance: "500", amount: "100", days: 1, blocked: true, want: ErrAccountBlocked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := fundedAccount(tc.balance)
			a.IsBlocked = tc.blocked
			before := a

			err := StartLoop(&a, DefaultRules(), dec(tc.amount), tc.days, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !a.Balance.Equal(before.Balance) || !a.LoopAmount.Equal(before.LoopAmount) || a.LoopStatus != before.LoopStatus {
				t.Fatal("expected account to be unchanged")
			}
		})
	}
}

func TestStartLoop_AcceptsBoundaries(t *testing.T) {
	for _, amount := range []string{"10", "5000"} {
		a := fundedAccount("5000")
		if err := StartLoop(&a, DefaultRules(), dec(amount), 1, time.Now()); err != nil {
			t.Fatalf("expected amount %s to be accepted, got %v", amount, err)
		}
	}
}

func TestStartLoop_RejectsSecondActiveLoop(t *testing.T) {
	a := fundedAccount("500")
	now := time.Now()
	if err := StartLoop(&a, DefaultRules(), dec("100"), 1, now); err != nil {
		t.Fatalf("expected first loop to start, got %v", err)
	}
	if err := StartLoop(&a, DefaultRules(), dec("100"), 1, now); !errors.Is(err, ErrLoopAlreadyActive) {
		t.Fatalf("expected ErrLoopAlreadyActive, got %v", err)
	}
}

func TestClaimLoop_PaysPrincipalAndProfit(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := fundedAccount("100")
	if err := StartLoop(&a, DefaultRules(), dec("100"), 3, start); err != nil {
		t.Fatalf("start: %v", err)
	}

	payout, err := ClaimLoop(&a, DefaultRules(), start.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !payout.Profit.Equal(dec("15")) {
		t.Fatalf("expected profit 15, got %s", payout.Profit)
	}
	if !a.Balance.Equal(dec("115")) {
		t.Fatalf("expected balance 115, got %s", a.Balance)
	}
	if !a.TotalEarnings.Equal(dec("15")) {
		t.Fatalf("expected total earnings 15, got %s", a.TotalEarnings)
	}
	if a.LoopActive() || a.LoopEndTime != nil || !a.LoopAmount.IsZero() || a.LoopDurationDays != 0 {
		t.Fatal("expected loop fields to be reset")
	}
}

func TestClaimLoop_EarlyClaimFailsWithoutMutation(t *testing.T) {
	start := time.Now()
	a := fundedAccount("100")
	if err := StartLoop(&a, DefaultRules(), dec("100"), 1, start); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := ClaimLoop(&a, DefaultRules(), start.Add(23*time.Hour))
	if !errors.Is(err, ErrLoopNotFinished) {
		t.Fatalf("expected ErrLoopNotFinished, got %v", err)
	}
	if !a.Balance.IsZero() || !a.LoopAmount.Equal(dec("100")) {
		t.Fatal("expected loop to remain untouched")
	}
}

func TestClaimLoop_NoActiveLoop(t *testing.T) {
	a := fundedAccount("100")
	if _, err := ClaimLoop(&a, DefaultRules(), time.Now()); !errors.Is(err, ErrLoopNotActive) {
		t.Fatalf("expected ErrLoopNotActive, got %v", err)
	}
}

func TestSavings_DepositClaimWithdraw(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rules := DefaultRules()
	a := fundedAccount("300")

	if err := DepositSavings(&a, rules, dec("200"), start); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !a.Balance.Equal(dec("100")) || !a.SavingsBalance.Equal(dec("200")) {
		t.Fatalf("unexpected pools after deposit: balance=%s savings=%s", a.Balance, a.SavingsBalance)
	}

	if _, err := ClaimSavingsInterest(&a, rules, start.Add(23*time.Hour)); !errors.Is(err, ErrSavingsClaimTooSoon) {
		t.Fatalf("expected ErrSavingsClaimTooSoon, got %v", err)
	}

	interest, err := ClaimSavingsInterest(&a, rules, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !interest.Equal(dec("20")) {
		t.Fatalf("expected interest 20, got %s", interest)
	}
	if !a.Balance.Equal(dec("120")) || !a.SavingsBalance.Equal(dec("200")) {
		t.Fatalf("expected interest to land in balance only, got balance=%s savings=%s", a.Balance, a.SavingsBalance)
	}

	if err := WithdrawSavings(&a, dec("250")); !errors.Is(err, ErrInsufficientSavings) {
		t.Fatalf("expected ErrInsufficientSavings, got %v", err)
	}
	if err := WithdrawSavings(&a, dec("200")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !a.Balance.Equal(dec("320")) || !a.SavingsBalance.IsZero() {
		t.Fatalf("unexpected pools after withdraw: balance=%s savings=%s", a.Balance, a.SavingsBalance)
	}
}

func TestClaimSavingsInterest_GateOff(t *testing.T) {
	now := time.Now()
	rules := DefaultRules()
	rules.SavingsClaimGate = SavingsClaimGateOff
	a := fundedAccount("100")
	if err := DepositSavings(&a, rules, dec("100"), now); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := ClaimSavingsInterest(&a, rules, now); err != nil {
		t.Fatalf("expected claim without gate, got %v", err)
	}
}

func TestClaimSavingsInterest_NoSavings(t *testing.T) {
	a := fundedAccount("100")
	if _, err := ClaimSavingsInterest(&a, DefaultRules(), time.Now()); !errors.Is(err, ErrNoSavings) {
		t.Fatalf("expected ErrNoSavings, got %v", err)
	}
}

func TestDepositSavings_Limits(t *testing.T) {
	a := fundedAccount("10000")
	if err := DepositSavings(&a, DefaultRules(), dec("5"), time.Now()); !errors.Is(err, ErrBelowSavingsMinimum) {
		t.Fatalf("expected ErrBelowSavingsMinimum, got %v", err)
	}
	if err := DepositSavings(&a, DefaultRules(), dec("4000.01"), time.Now()); !errors.Is(err, ErrAboveSavingsMaximum) {
		t.Fatalf("expected ErrAboveSavingsMaximum, got %v", err)
	}
	if !a.Balance.Equal(dec("10000")) {
		t.Fatalf("expected balance unchanged, got %s", a.Balance)
	}
}

func TestMoneyInputs_RejectSubCentAmounts(t *testing.T) {
	const addr = "0x52908400098527886E0F7030069857D2E4169EE7"
	rules := DefaultRules()
	now := time.Now()

	cases := []struct {
		name string
		run  func(a *Account) error
	}{
		{name: "start loop", run: func(a *Account) error { return StartLoop(a, rules, dec("10.005"), 1, now) }},
		{name: "deposit savings", run: func(a *Account) error { return DepositSavings(a, rules, dec("10.005"), now) }},
		{name: "withdraw savings", run: func(a *Account) error { return WithdrawSavings(a, dec("0.005")) }},
		{name: "deposit request", run: func(a *Account) error {
			_, err := NewDepositRequest(*a, rules, dec("25.001"), now)
			return err
		}},
		{name: "withdraw request", run: func(a *Account) error {
			_, err := NewWithdrawRequest(*a, rules, dec("25.001"), addr, now)
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := fundedAccount("100")
			a.SavingsBalance = dec("100")
			if err := tc.run(&a); !errors.Is(err, ErrAmountPrecision) {
				t.Fatalf("expected ErrAmountPrecision, got %v", err)
			}
			if !a.Balance.Equal(dec("100")) || !a.SavingsBalance.Equal(dec("100")) || a.LoopActive() {
				t.Fatalf("expected no mutation, got balance=%s savings=%s loop=%s", a.Balance, a.SavingsBalance, a.LoopAmount)
			}
		})
	}
}

func TestMoneyInputs_TrailingZerosAreCents(t *testing.T) {
	a := fundedAccount("100")
	if err := DepositSavings(&a, DefaultRules(), dec("10.500"), time.Now()); err != nil {
		t.Fatalf("expected 10.500 to be accepted as 10.50, got %v", err)
	}
	if err := WithdrawSavings(&a, dec("0")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
}

// Profit and interest are rounded half away from zero to cents.
func TestEarnings_RoundToCents(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rules := DefaultRules()

	cases := []struct {
		amount string
		days   int
		profit string
	}{
		{amount: "10.10", days: 1, profit: "0.51"},
		{amount: "10.01", days: 1, profit: "0.5"},
		{amount: "10.01", days: 3, profit: "1.5"},
	}
	for _, tc := range cases {
		a := fundedAccount("100")
		if err := StartLoop(&a, rules, dec(tc.amount), tc.days, start); err != nil {
			t.Fatalf("start %s: %v", tc.amount, err)
		}
		payout, err := ClaimLoop(&a, rules, start.Add(time.Duration(tc.days)*24*time.Hour))
		if err != nil {
			t.Fatalf("claim %s: %v", tc.amount, err)
		}
		if !payout.Profit.Equal(dec(tc.profit)) {
			t.Errorf("loop %s x %d days: expected profit %s, got %s", tc.amount, tc.days, tc.profit, payout.Profit)
		}
		if !payout.Total.Equal(dec(tc.amount).Add(dec(tc.profit))) {
			t.Errorf("loop %s: total %s is not principal plus profit", tc.amount, payout.Total)
		}
	}

	for amount, want := range map[string]string{"10.01": "1", "10.05": "1.01"} {
		a := fundedAccount("100")
		if err := DepositSavings(&a, rules, dec(amount), start); err != nil {
			t.Fatalf("deposit %s: %v", amount, err)
		}
		interest, err := ClaimSavingsInterest(&a, rules, start.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("claim %s: %v", amount, err)
		}
		if !interest.Equal(dec(want)) {
			t.Errorf("savings %s: expected interest %s, got %s", amount, want, interest)
		}
	}
}
