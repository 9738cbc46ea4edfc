package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// CheckoutMetrics records checkout attempts and the conflicts they hit. The
// nil receiver is a no-op so callers never have to guard.
type CheckoutMetrics struct {
	attempts  *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	retries   prometheus.Counter
	duration  prometheus.Histogram
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_attempts_total",
		Help:      "Checkout executions by outcome.",
	}, []string{"outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_conflicts_total",
		Help:      "Checkout aborts by conflict kind (stock, price, state).",
	}, []string{"kind"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_transient_retries_total",
		Help:      "Checkout transactions retried after a transient storage conflict.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_duration_seconds",
		Help:      "End-to-end checkout duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
	reg.MustRegister(attempts, conflicts, retries, duration)
	return &CheckoutMetrics{
		attempts:  attempts,
		conflicts: conflicts,
		retries:   retries,
		duration:  duration,
	}
}

// IncAttempt counts one checkout execution with its outcome label.
func (c *CheckoutMetrics) IncAttempt(outcome string) {
	if c == nil || c.attempts == nil {
		return
	}
	c.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncConflict counts a checkout abort by conflict kind.
func (c *CheckoutMetrics) IncConflict(kind string) {
	if c == nil || c.conflicts == nil {
		return
	}
	c.conflicts.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncRetry counts one transient-conflict retry.
func (c *CheckoutMetrics) IncRetry() {
	if c == nil || c.retries == nil {
		return
	}
	c.retries.Inc()
}

// ObserveDuration records how long a checkout took, retries included.
func (c *CheckoutMetrics) ObserveDuration(d time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.Observe(d.Seconds())
}
