package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSettlementMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlement(reg)

	m.ObserveCommit("settled", "cash")
	m.ObserveCommit("settled", "cash")
	m.ObserveCommit("aborted", "")
	m.ObserveCommitDuration("committed", 120*time.Millisecond)
	m.ObserveGateway("midtrans", "error")
	m.IncNotifyFailure("receipt")
	m.IncInvoiceRetry()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if got, err := counterValue(mfs, "settlement_commits_total", map[string]string{"state": "settled", "method": "cash"}); err != nil || got != 2 {
		t.Fatalf("expected 2 settled cash commits, got %v (%v)", got, err)
	}
	if got, err := counterValue(mfs, "settlement_commits_total", map[string]string{"state": "aborted", "method": "unknown"}); err != nil || got != 1 {
		t.Fatalf("expected empty method to normalize to unknown, got %v (%v)", got, err)
	}
	if got, err := counterValue(mfs, "payment_gateway_calls_total", map[string]string{"gateway": "midtrans", "result": "error"}); err != nil || got != 1 {
		t.Fatalf("expected one gateway error, got %v (%v)", got, err)
	}
	if got, err := counterValue(mfs, "notify_handler_failures_total", map[string]string{"handler": "receipt"}); err != nil || got != 1 {
		t.Fatalf("expected one notify failure, got %v (%v)", got, err)
	}
}

func TestNilSettlementIsSafe(t *testing.T) {
	var m *Settlement
	m.ObserveCommit("settled", "cash")
	m.ObserveGateway("square", "ok")
	m.IncNotifyFailure("receipt")
	m.ObserveCartOp("hold", "ok")
	if NewSettlement(nil) != nil {
		t.Fatalf("nil registerer should yield nil metrics")
	}
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue(), nil
			}
		}
		return 0, fmt.Errorf("no series %v in %s", labels, name)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}
