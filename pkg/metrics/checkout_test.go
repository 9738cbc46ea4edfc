package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCheckoutMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCheckoutMetrics(reg)

	metrics.IncAttempt("success")
	metrics.IncAttempt("success")
	metrics.IncConflict("stock")
	metrics.IncRetry()
	metrics.ObserveDuration(120 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "storefront_checkout_attempts_total", "outcome", "success"); err != nil {
		t.Fatalf("fetch attempts: %v", err)
	} else if got != 2 {
		t.Fatalf("expected attempts=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "storefront_checkout_conflicts_total", "kind", "stock"); err != nil {
		t.Fatalf("fetch conflicts: %v", err)
	} else if got != 1 {
		t.Fatalf("expected conflicts=1, got %f", got)
	}

	retries := findMetricFamily(mfs, "storefront_checkout_transient_retries_total")
	if retries == nil {
		t.Fatal("retries metric not found")
	}
	if got := retries.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected retries=1, got %f", got)
	}

	duration := findMetricFamily(mfs, "storefront_checkout_duration_seconds")
	if duration == nil {
		t.Fatal("duration metric not found")
	}
	if sum := duration.GetMetric()[0].GetHistogram().GetSampleSum(); sum <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", sum)
	}
}

func TestCheckoutMetricsNilSafe(t *testing.T) {
	var metrics *CheckoutMetrics
	metrics.IncAttempt("success")
	metrics.IncConflict("price")
	metrics.IncRetry()
	metrics.ObserveDuration(time.Second)
}
