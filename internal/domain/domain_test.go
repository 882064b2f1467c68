package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTierCommission(t *testing.T) {
	rules := DefaultRules()
	want := []string{"130", "50", "30", "20", "10", "0"}
	for tier, expected := range want {
		got := rules.TierCommission(tier, dec("1000"))
		if !got.Equal(dec(expected)) {
			t.Fatalf("tier %d: expected %s, got %s", tier, expected, got)
		}
	}
	if got := rules.TierCommission(0, dec("0.10")); !got.Equal(dec("0.01")) {
		t.Fatalf("expected commission rounded to cents, got %s", got)
	}
}

func TestNewCommissionIntent(t *testing.T) {
	a := fundedAccount("100")
	if _, ok := NewCommissionIntent(a, dec("100"), TriggerLoopStart, time.Now()); ok {
		t.Fatal("expected no intent without an inviter")
	}

	a.InvitedBy = "BN123456"
	intent, ok := NewCommissionIntent(a, dec("100"), TriggerSavingsDeposit, time.Now())
	if !ok {
		t.Fatal("expected intent for invited account")
	}
	if intent.IntentID == "" || intent.InviterCode != "BN123456" || intent.SourceAccountID != a.ID {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestResolveInviterCode_Priority(t *testing.T) {
	cases := []struct {
		name                string
		form, cached, query string
		want                string
	}{
		{name: "form wins", form: " bn111111 ", cached: "BN222222", query: "BN333333", want: "BN111111"},
		{name: "cached over query", cached: "bn222222", query: "BN333333", want: "BN222222"},
		{name: "query fallback", query: "bn333333", want: "BN333333"},
		{name: "blank form ignored", form: "   ", query: "BN333333", want: "BN333333"},
		{name: "none", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveInviterCode(tc.form, tc.cached, tc.query); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestGenerateReferralCode_Format(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := GenerateReferralCode()
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if len(code) != 8 || !strings.HasPrefix(code, "BN") {
			t.Fatalf("unexpected referral code %q", code)
		}
		for _, r := range code[2:] {
			if r < '0' || r > '9' {
				t.Fatalf("expected digits after prefix, got %q", code)
			}
		}
	}
}

func TestSettlementCredit(t *testing.T) {
	deposit := Transaction{Type: TransactionDeposit, Amount: dec("50")}
	withdraw := Transaction{Type: TransactionWithdraw, Amount: dec("50")}

	if got := deposit.SettlementCredit(ResolutionApprove); !got.Equal(dec("50")) {
		t.Fatalf("expected approved deposit to credit 50, got %s", got)
	}
	if got := deposit.SettlementCredit(ResolutionReject); !got.IsZero() {
		t.Fatalf("expected rejected deposit to credit nothing, got %s", got)
	}
	if got := withdraw.SettlementCredit(ResolutionApprove); !got.IsZero() {
		t.Fatalf("expected approved withdraw to credit nothing, got %s", got)
	}
	if got := withdraw.SettlementCredit(ResolutionReject); !got.Equal(dec("50")) {
		t.Fatalf("expected rejected withdraw to refund 50, got %s", got)
	}
}

func TestNewWithdrawRequest_Validation(t *testing.T) {
	const addr = "0x52908400098527886E0F7030069857D2E4169EE7"
	rules := DefaultRules()
	a := fundedAccount("50")

	if _, err := NewWithdrawRequest(a, rules, dec("5"), addr, time.Now()); !errors.Is(err, ErrBelowWithdrawMinimum) {
		t.Fatalf("expected ErrBelowWithdrawMinimum, got %v", err)
	}
	if _, err := NewWithdrawRequest(a, rules, dec("20"), "TXYZ", time.Now()); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := NewWithdrawRequest(a, rules, dec("50.01"), addr, time.Now()); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	tx, err := NewWithdrawRequest(a, rules, dec("50"), addr, time.Now())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if tx.Status != TransactionPending || tx.Type != TransactionWithdraw || tx.UserID != a.ID {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestApplyAdminAction(t *testing.T) {
	a := fundedAccount("500")
	if err := StartLoop(&a, DefaultRules(), dec("100"), 1, time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := ApplyAdminAction(&a, AdminBlock, nil); err != nil || !a.IsBlocked {
		t.Fatalf("expected account blocked, err=%v", err)
	}
	if err := ApplyAdminAction(&a, AdminUnblock, nil); err != nil || a.IsBlocked {
		t.Fatalf("expected account unblocked, err=%v", err)
	}

	override := &BalanceOverride{Balance: dec("42"), LoopAmount: dec("80"), SavingsBalance: dec("7")}
	if err := ApplyAdminAction(&a, AdminUpdateBalance, override); err != nil {
		t.Fatalf("update balance: %v", err)
	}
	if !a.Balance.Equal(dec("42")) || !a.LoopAmount.Equal(dec("80")) || !a.SavingsBalance.Equal(dec("7")) {
		t.Fatalf("unexpected pools %s/%s/%s", a.Balance, a.LoopAmount, a.SavingsBalance)
	}

	if err := ApplyAdminAction(&a, AdminResetBalance, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !a.Balance.IsZero() || !a.SavingsBalance.IsZero() || a.LoopActive() {
		t.Fatal("expected all pools reset")
	}

	if err := ApplyAdminAction(&a, AdminUpdateBalance, &BalanceOverride{LoopAmount: dec("10")}); !errors.Is(err, ErrInvalidBalanceOverride) {
		t.Fatalf("expected ErrInvalidBalanceOverride for idle loop, got %v", err)
	}
	if err := ApplyAdminAction(&a, AdminAction("delete"), nil); !errors.Is(err, ErrUnknownAdminAction) {
		t.Fatalf("expected ErrUnknownAdminAction, got %v", err)
	}
}

func TestValidAddress(t *testing.T) {
	cases := map[string]bool{
		"0x52908400098527886E0F7030069857D2E4169EE7":   true,
		" 0x52908400098527886e0f7030069857d2e4169ee7 ": true,
		"52908400098527886E0F7030069857D2E4169EE7":     false,
		"0x52908400098527886E0F7030069857D2E4169EE":    false,
		"0x52908400098527886E0F7030069857D2E4169EEZ":   false,
		"TXYZ": false,
		"":     false,
	}
	for addr, want := range cases {
		if got := ValidAddress(addr); got != want {
			t.Errorf("ValidAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestApplyAdminAction_RejectsSubCentOverride(t *testing.T) {
	a := fundedAccount("500")
	override := &BalanceOverride{Balance: dec("42.001")}
	if err := ApplyAdminAction(&a, AdminUpdateBalance, override); !errors.Is(err, ErrInvalidBalanceOverride) {
		t.Fatalf("expected ErrInvalidBalanceOverride, got %v", err)
	}
	if !a.Balance.Equal(dec("500")) {
		t.Fatalf("expected balance unchanged, got %s", a.Balance)
	}
}
