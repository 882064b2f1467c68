package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry          *prometheus.Registry
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ledgerAccounts    prometheus.Gauge
	ledgerValue       *prometheus.GaugeVec
	commissionPayouts *prometheus.CounterVec
	outboxMessages    *prometheus.CounterVec
	logger            *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ledgerAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_accounts",
			Help: "Number of accounts in the ledger",
		}),
		ledgerValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_value_usd",
			Help: "Sum of account values by bucket",
		}, []string{"bucket"}),
		commissionPayouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commission_payouts_total",
			Help: "Commission payouts applied by tier",
		}, []string{"tier"}),
		outboxMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_outbox_messages_total",
			Help: "Outbox messages handled by result",
		}, []string{"result"}),
		logger: logger,
	}
}

func (m *MetricsCollector) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetLedgerTotals replaces the ledger gauges. values is keyed by bucket name.
func (m *MetricsCollector) SetLedgerTotals(accounts int64, values map[string]float64) {
	m.ledgerAccounts.Set(float64(accounts))
	for bucket, v := range values {
		m.ledgerValue.WithLabelValues(bucket).Set(v)
	}
	m.logger.Debug("ledger totals updated", slog.Int64("accounts", accounts))
}

func (m *MetricsCollector) RecordCommissionPayout(tier int) {
	m.commissionPayouts.WithLabelValues(strconv.Itoa(tier)).Inc()
}

func (m *MetricsCollector) RecordOutboxMessage(result string) {
	m.outboxMessages.WithLabelValues(result).Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
