package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics

	loanMetricsOnce sync.Once
	loanRegistry    *LoanMetrics

	creditMetricsOnce sync.Once
	creditRegistry    *CreditLineMetrics
)

// Gateway returns the lazily-initialised metrics registry used to record HTTP
// gateway activity.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "credit",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *gatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// LoanMetrics captures counters and gauges for the fixed-term loan lifecycle.
type LoanMetrics struct {
	transitions *prometheus.CounterVec
	funded      *prometheus.CounterVec
	defaults    prometheus.Counter
	outstanding *prometheus.GaugeVec
}

// Loans exposes the singleton metrics registry for the loan engine.
func Loans() *LoanMetrics {
	loanMetricsOnce.Do(func() {
		loanRegistry = &LoanMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "loans",
				Name:      "transitions_total",
				Help:      "Count of loan status transitions segmented by target status.",
			}, []string{"status"}),
			funded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "loans",
				Name:      "funded_total",
				Help:      "Count of loans funded segmented by pool.",
			}, []string{"pool"}),
			defaults: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "loans",
				Name:      "defaults_total",
				Help:      "Count of loans closed with an unpaid shortfall.",
			}),
			outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "credit",
				Subsystem: "loans",
				Name:      "outstanding_value",
				Help:      "Current value of loans held per pool in integer token units.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			loanRegistry.transitions,
			loanRegistry.funded,
			loanRegistry.defaults,
			loanRegistry.outstanding,
		)
	})
	return loanRegistry
}

// RecordTransition increments the transition counter for the supplied status.
func (m *LoanMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	if status = strings.TrimSpace(status); status == "" {
		status = "unknown"
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordFunded increments the funded counter for a pool and notes a default
// when the closed loan fell short of its debt.
func (m *LoanMetrics) RecordFunded(pool string) {
	if m == nil {
		return
	}
	m.funded.WithLabelValues(labelPool(pool)).Inc()
}

// RecordDefault increments the default counter.
func (m *LoanMetrics) RecordDefault() {
	if m == nil {
		return
	}
	m.defaults.Inc()
}

// RecordOutstanding updates the outstanding value gauge for a pool.
func (m *LoanMetrics) RecordOutstanding(pool string, value *big.Int) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(labelPool(pool)).Set(bigToFloat(value))
}

// CreditLineMetrics bundles collectors tracking revolving line-of-credit health.
type CreditLineMetrics struct {
	borrowed     *prometheus.CounterVec
	repaid       *prometheus.CounterVec
	interestPaid *prometheus.GaugeVec
}

// CreditLines exposes the metrics registry for the line-of-credit engine.
func CreditLines() *CreditLineMetrics {
	creditMetricsOnce.Do(func() {
		creditRegistry = &CreditLineMetrics{
			borrowed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "lines",
				Name:      "borrowed_total",
				Help:      "Count of line-of-credit draws segmented by pool.",
			}, []string{"pool"}),
			repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "lines",
				Name:      "repaid_total",
				Help:      "Count of line-of-credit repayments segmented by pool.",
			}, []string{"pool"}),
			interestPaid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "credit",
				Subsystem: "lines",
				Name:      "interest_paid",
				Help:      "Cumulative interest paid into each pool in integer token units.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			creditRegistry.borrowed,
			creditRegistry.repaid,
			creditRegistry.interestPaid,
		)
	})
	return creditRegistry
}

// RecordBorrow increments the draw counter for a pool.
func (m *CreditLineMetrics) RecordBorrow(pool string) {
	if m == nil {
		return
	}
	m.borrowed.WithLabelValues(labelPool(pool)).Inc()
}

// RecordRepay increments the repayment counter for a pool.
func (m *CreditLineMetrics) RecordRepay(pool string) {
	if m == nil {
		return
	}
	m.repaid.WithLabelValues(labelPool(pool)).Inc()
}

// RecordInterestPaid updates the cumulative interest gauge for a pool.
func (m *CreditLineMetrics) RecordInterestPaid(pool string, total *big.Int) {
	if m == nil {
		return
	}
	m.interestPaid.WithLabelValues(labelPool(pool)).Set(bigToFloat(total))
}

func labelPool(pool string) string {
	trimmed := strings.TrimSpace(pool)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
