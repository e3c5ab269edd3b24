package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement records checkout outcomes, gateway calls and notification
// handler failures. A nil *Settlement is valid and records nothing.
type Settlement struct {
	commits        *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	invoiceRetries prometheus.Counter
	gatewayCalls   *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	cartOps        *prometheus.CounterVec
}

func NewSettlement(reg prometheus.Registerer) *Settlement {
	if reg == nil {
		return nil
	}
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_commits_total",
		Help: "Checkout attempts by final state and payment method.",
	}, []string{"state", "method"})
	commitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_commit_duration_seconds",
		Help:    "Duration of the atomic commit section.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	invoiceRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_invoice_collisions_total",
		Help: "Invoice codes regenerated after a unique violation.",
	})
	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_calls_total",
		Help: "Gateway charge calls by gateway and result.",
	}, []string{"gateway", "result"})
	notifyFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_handler_failures_total",
		Help: "Post-commit handler failures by handler.",
	}, []string{"handler"})
	cartOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart store operations by operation and result code.",
	}, []string{"op", "result"})

	reg.MustRegister(commits, commitDuration, invoiceRetries, gatewayCalls, notifyFailures, cartOps)
	return &Settlement{
		commits:        commits,
		commitDuration: commitDuration,
		invoiceRetries: invoiceRetries,
		gatewayCalls:   gatewayCalls,
		notifyFailures: notifyFailures,
		cartOps:        cartOps,
	}
}

func (m *Settlement) ObserveCommit(state string, method string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(normalizeLabel(state), normalizeLabel(method)).Inc()
}

func (m *Settlement) ObserveCommitDuration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commitDuration.WithLabelValues(normalizeLabel(outcome)).Observe(d.Seconds())
}

func (m *Settlement) IncInvoiceRetry() {
	if m == nil {
		return
	}
	m.invoiceRetries.Inc()
}

func (m *Settlement) ObserveGateway(gateway string, result string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(gateway), normalizeLabel(result)).Inc()
}

func (m *Settlement) IncNotifyFailure(handler string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(normalizeLabel(handler)).Inc()
}

func (m *Settlement) ObserveCartOp(op string, result string) {
	if m == nil {
		return
	}
	m.cartOps.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
