package app

import (
	"context"
	"testing"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/feed"
	"github.com/bitnest/ledger-service/internal/identity"
	"github.com/bitnest/ledger-service/internal/ratelimit"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const (
	testExchange   = "bitnest.events"
	testAdminEmail = "admin@bitnest.test"
	testPassword   = "secret1"
	testAddress    = "0x52908400098527886E0F7030069857D2E4169EE7"
)

type testClock struct {
	at time.Time
}

func (c *testClock) now() time.Time { return c.at }

func (c *testClock) advance(d time.Duration) { c.at = c.at.Add(d) }

type testEnv struct {
	svc    *Service
	repo   *store.LocalRepository
	broker *feed.MemoryBroker
	clock  *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := store.NewLocalRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalRepository returned error: %v", err)
	}
	limiter := ratelimit.NewMemoryLimiter()
	provider := identity.NewProvider(repo, limiter, identity.Options{
		Secret:   "test-secret",
		Exchange: testExchange,
		HashCost: bcrypt.MinCost,
	})
	broker := feed.NewMemoryBroker()
	svc := NewService(repo, broker, provider, limiter, Options{
		Rules:         domain.DefaultRules(),
		Exchange:      testExchange,
		AdminEmail:    testAdminEmail,
		PublicBaseURL: "https://bitnest.test",
	})
	clock := &testClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.now
	return &testEnv{svc: svc, repo: repo, broker: broker, clock: clock}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *testEnv) signUp(t *testing.T, email, referralCode string) *domain.Account {
	t.Helper()
	res, err := e.svc.SignUp(context.Background(), SignUpRequest{
		Email:           email,
		Password:        testPassword,
		ConfirmPassword: testPassword,
		ReferralCode:    referralCode,
	})
	if err != nil {
		t.Fatalf("SignUp(%s) returned error: %v", email, err)
	}
	return res.Account
}

func (e *testEnv) fund(t *testing.T, id string, amount string) {
	t.Helper()
	if _, err := e.repo.IncrementAccount(context.Background(), id, store.AccountDelta{Balance: dec(amount)}); err != nil {
		t.Fatalf("fund returned error: %v", err)
	}
}

func (e *testEnv) account(t *testing.T, id string) *domain.Account {
	t.Helper()
	a, err := e.repo.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount returned error: %v", err)
	}
	return a
}

// pendingRoutingKeys claims every deliverable outbox row and returns their routing keys.
func (e *testEnv) pendingRoutingKeys(t *testing.T) []string {
	t.Helper()
	messages, err := e.repo.ClaimOutboxMessages(context.Background(), 100, 120)
	if err != nil {
		t.Fatalf("ClaimOutboxMessages returned error: %v", err)
	}
	keys := make([]string, 0, len(messages))
	for _, m := range messages {
		keys = append(keys, m.RoutingKey)
	}
	return keys
}

func countKey(keys []string, key string) int {
	n := 0
	for _, k := range keys {
		if k == key {
			n++
		}
	}
	return n
}

func assertMoney(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got.StringFixed(2))
	}
}
