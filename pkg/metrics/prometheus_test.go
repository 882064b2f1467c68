package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector(slog.New(slog.NewTextHandler(io.Discard, nil)))

	m.ObserveHTTPRequest(http.MethodPost, "/v1/loop/start", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodPost, "/v1/loop/start", http.StatusOK, 10*time.Millisecond)
	m.RecordCommissionPayout(1)
	m.SetLedgerTotals(3, map[string]float64{"balance": 250.5})

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodPost, "/v1/loop/start", "200")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerAccounts); got != 3 {
		t.Fatalf("expected 3 accounts, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ledger_commission_payouts_total{tier=\"1\"} 1") {
		t.Fatalf("expected commission payout series in output:\n%s", body)
	}
	if !strings.Contains(string(body), "ledger_value_usd{bucket=\"balance\"} 250.5") {
		t.Fatalf("expected ledger balance gauge in output:\n%s", body)
	}
}
