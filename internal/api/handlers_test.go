package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bitnest/ledger-service/internal/app"
	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/feed"
	"github.com/bitnest/ledger-service/internal/identity"
	"github.com/bitnest/ledger-service/internal/ratelimit"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/bitnest/ledger-service/pkg/metrics"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAdminEmail = "admin@bitnest.test"
	testPassword   = "secret1"
)

type testServer struct {
	*httptest.Server
	repo *store.LocalRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := store.NewLocalRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalRepository returned error: %v", err)
	}
	limiter := ratelimit.NewMemoryLimiter()
	provider := identity.NewProvider(repo, limiter, identity.Options{
		Secret:               "test-secret",
		SignInLimitPerMinute: 3,
		HashCost:             bcrypt.MinCost,
	})
	broker := feed.NewMemoryBroker()
	svc := app.NewService(repo, broker, provider, limiter, app.Options{
		Rules:         domain.DefaultRules(),
		AdminEmail:    testAdminEmail,
		PublicBaseURL: "https://bitnest.test",
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(NewHandlers(svc, provider, broker), metrics.NewMetricsCollector(logger), []string{"*"})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (s *testServer) signUp(t *testing.T, email string) app.SignUpResult {
	t.Helper()
	resp, data := s.do(t, http.MethodPost, "/v1/auth/signup", "", app.SignUpRequest{
		Email:           email,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", email, resp.StatusCode, data)
	}
	var result app.SignUpResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	return result
}

func expectStatus(t *testing.T, resp *http.Response, data []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d body %s", want, resp.StatusCode, data)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, resp, data, http.StatusOK)
	if string(data) != "healthy" {
		t.Fatalf("unexpected health body %q", data)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/v1/accounts/me", "", nil)
	expectStatus(t, resp, data, http.StatusUnauthorized)

	resp, data = s.do(t, http.MethodGet, "/v1/accounts/me", "not-a-token", nil)
	expectStatus(t, resp, data, http.StatusUnauthorized)
}

func TestSignUpAndProfile(t *testing.T) {
	s := newTestServer(t)
	result := s.signUp(t, "Alice@Example.com")

	resp, data := s.do(t, http.MethodGet, "/v1/accounts/me", result.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusOK)
	var me domain.Account
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if me.Email != "alice@example.com" || !me.Balance.IsZero() || me.ReferralCode == "" {
		t.Fatalf("unexpected account %+v", me)
	}

	nickname := "Al"
	resp, data = s.do(t, http.MethodPatch, "/v1/accounts/me", result.Session.Token, app.ProfileUpdate{Nickname: &nickname})
	expectStatus(t, resp, data, http.StatusOK)
	if !strings.Contains(string(data), `"nickname":"Al"`) {
		t.Fatalf("nickname not updated: %s", data)
	}

	resp, data = s.do(t, http.MethodPost, "/v1/auth/signup", "", app.SignUpRequest{
		Email: "alice@example.com", Password: testPassword, ConfirmPassword: testPassword,
	})
	expectStatus(t, resp, data, http.StatusConflict)

	resp, data = s.do(t, http.MethodPost, "/v1/auth/signup", "", app.SignUpRequest{
		Email: "bob@example.com", Password: testPassword, ConfirmPassword: "other1",
	})
	expectStatus(t, resp, data, http.StatusBadRequest)
}

func TestSignUpWithReferralQuery(t *testing.T) {
	s := newTestServer(t)
	inviter := s.signUp(t, "inviter@example.com")

	resp, data := s.do(t, http.MethodPost, "/v1/auth/signup?ref="+strings.ToLower(inviter.Account.ReferralCode), "", app.SignUpRequest{
		Email: "invitee@example.com", Password: testPassword, ConfirmPassword: testPassword,
	})
	expectStatus(t, resp, data, http.StatusCreated)

	resp, data = s.do(t, http.MethodGet, "/v1/team", inviter.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusOK)
	var team app.Team
	if err := json.Unmarshal(data, &team); err != nil {
		t.Fatalf("decode team: %v", err)
	}
	if team.TeamCount != 1 || len(team.Members) != 1 {
		t.Fatalf("expected one invitee, got %+v", team)
	}
}

func TestSignInSignOut(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "carol@example.com")

	resp, data := s.do(t, http.MethodPost, "/v1/auth/signin", "", signInRequest{Email: "carol@example.com", Password: "wrong-pass"})
	expectStatus(t, resp, data, http.StatusUnauthorized)

	resp, data = s.do(t, http.MethodPost, "/v1/auth/signin", "", signInRequest{Email: "carol@example.com", Password: testPassword})
	expectStatus(t, resp, data, http.StatusOK)
	var session identity.Session
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	resp, data = s.do(t, http.MethodPost, "/v1/auth/signout", session.Token, nil)
	expectStatus(t, resp, data, http.StatusNoContent)

	resp, data = s.do(t, http.MethodGet, "/v1/accounts/me", session.Token, nil)
	expectStatus(t, resp, data, http.StatusUnauthorized)
}

func TestSignInRateLimited(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dave@example.com")

	for i := 0; i < 3; i++ {
		resp, data := s.do(t, http.MethodPost, "/v1/auth/signin", "", signInRequest{Email: "dave@example.com", Password: "wrong-pass"})
		expectStatus(t, resp, data, http.StatusUnauthorized)
	}
	resp, data := s.do(t, http.MethodPost, "/v1/auth/signin", "", signInRequest{Email: "dave@example.com", Password: testPassword})
	expectStatus(t, resp, data, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
}

func TestLoopRequiresBalance(t *testing.T) {
	s := newTestServer(t)
	user := s.signUp(t, "erin@example.com")

	resp, data := s.do(t, http.MethodPost, "/v1/loop/start", user.Session.Token, map[string]interface{}{"amount": "50", "days": 1})
	expectStatus(t, resp, data, http.StatusPaymentRequired)

	resp, data = s.do(t, http.MethodPost, "/v1/loop/start", user.Session.Token, map[string]interface{}{"amount": "5", "days": 1})
	expectStatus(t, resp, data, http.StatusBadRequest)

	resp, data = s.do(t, http.MethodPost, "/v1/loop/claim", user.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusConflict)
}

func TestDepositApprovalFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.signUp(t, testAdminEmail)
	user := s.signUp(t, "frank@example.com")

	resp, data := s.do(t, http.MethodPost, "/v1/transactions/deposit", user.Session.Token, map[string]string{"amount": "100"})
	expectStatus(t, resp, data, http.StatusCreated)
	var tx domain.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}

	resp, data = s.do(t, http.MethodGet, "/v1/admin/transactions", user.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusForbidden)

	path := fmt.Sprintf("/v1/admin/transactions/%s/approve", tx.ID)
	resp, data = s.do(t, http.MethodPost, path, admin.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusOK)

	resp, data = s.do(t, http.MethodPost, path, admin.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusConflict)

	resp, data = s.do(t, http.MethodPost, fmt.Sprintf("/v1/admin/transactions/%s/cancel", tx.ID), admin.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusNotFound)

	resp, data = s.do(t, http.MethodGet, "/v1/accounts/me", user.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusOK)
	var me domain.Account
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if me.Balance.StringFixed(2) != "100.00" {
		t.Fatalf("expected balance 100.00, got %s", me.Balance.StringFixed(2))
	}

	resp, data = s.do(t, http.MethodGet, "/v1/transactions", user.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusOK)
	if !strings.Contains(string(data), `"status":"approved"`) {
		t.Fatalf("expected approved transaction in history: %s", data)
	}
}

func TestAdminCannotTouchAdmin(t *testing.T) {
	s := newTestServer(t)
	admin := s.signUp(t, testAdminEmail)

	path := fmt.Sprintf("/v1/admin/accounts/%s/actions", admin.Account.ID)
	resp, data := s.do(t, http.MethodPost, path, admin.Session.Token, app.AdminActionRequest{Action: domain.AdminBlock})
	expectStatus(t, resp, data, http.StatusForbidden)
}

func TestRecordClick(t *testing.T) {
	s := newTestServer(t)
	user := s.signUp(t, "gina@example.com")
	path := "/v1/referrals/" + user.Account.ReferralCode + "/click"

	click := func(session string) (*http.Response, []byte) {
		req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		if session != "" {
			req.Header.Set("X-Session-ID", session)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("click: %v", err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp, data
	}

	resp, data := click("")
	expectStatus(t, resp, data, http.StatusBadRequest)

	resp, data = click("browser-1")
	expectStatus(t, resp, data, http.StatusOK)
	if !strings.Contains(string(data), `"counted":true`) {
		t.Fatalf("first click not counted: %s", data)
	}
	resp, data = click("browser-1")
	expectStatus(t, resp, data, http.StatusOK)
	if !strings.Contains(string(data), `"counted":false`) {
		t.Fatalf("repeat click counted: %s", data)
	}
}

func TestAccountStream(t *testing.T) {
	s := newTestServer(t)
	admin := s.signUp(t, testAdminEmail)
	user := s.signUp(t, "hana@example.com")

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/v1/accounts/me/stream?access_token=" + user.Session.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first domain.Account
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.ID != user.Account.ID {
		t.Fatalf("snapshot for wrong account %s", first.ID)
	}

	resp, data := s.do(t, http.MethodPost, "/v1/transactions/deposit", user.Session.Token, map[string]string{"amount": "25"})
	expectStatus(t, resp, data, http.StatusCreated)
	var tx domain.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	resp, data = s.do(t, http.MethodPost, "/v1/admin/transactions/"+tx.ID+"/approve", admin.Session.Token, nil)
	expectStatus(t, resp, data, http.StatusOK)

	var next domain.Account
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Version <= first.Version || next.Balance.StringFixed(2) != "25.00" {
		t.Fatalf("unexpected update version=%d balance=%s", next.Version, next.Balance.StringFixed(2))
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrBelowLoopMinimum, http.StatusBadRequest},
		{fmt.Errorf("%w: minimum is 10", domain.ErrBelowSavingsMinimum), http.StatusBadRequest},
		{domain.ErrInsufficientBalance, http.StatusPaymentRequired},
		{identity.ErrTokenRevoked, http.StatusUnauthorized},
		{domain.ErrAccountBlocked, http.StatusForbidden},
		{store.ErrTransactionNotFound, http.StatusNotFound},
		{domain.ErrSavingsClaimTooSoon, http.StatusConflict},
		{&identity.RateLimitError{RetryAfterSeconds: 30}, http.StatusTooManyRequests},
		{errors.New("disk on fire"), 0},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
