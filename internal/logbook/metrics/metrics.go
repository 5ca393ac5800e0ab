package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the logbook module.
type Metrics struct {
	// Primary store writes by collection, operation and result
	Writes *prometheus.CounterVec

	// Lifecycle state machine transitions by kind and transition
	LifecycleTransitions *prometheus.CounterVec

	// Index mirror failures by collection and reason
	IndexSyncFailures *prometheus.CounterVec

	// Resync requests handed to the publisher, by result
	ResyncRequests *prometheus.CounterVec

	// 1 while the index breaker is open
	IndexBreakerOpen prometheus.Gauge

	// Facade call latency by method
	CallDuration *prometheus.HistogramVec
}

// New registers every logbook metric on reg. A nil registerer skips
// registration, which tests use to build throwaway instances.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logbook_writes_total",
			Help: "Primary store writes by collection, operation and result",
		}, []string{"collection", "op", "result"}),

		LifecycleTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logbook_lifecycle_transitions_total",
			Help: "Lifecycle transitions by kind (unit, objectgroup) and transition",
		}, []string{"kind", "transition"}), // stage_create, stage_update, commit_create, commit_update, rollback, force_update

		IndexSyncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logbook_index_sync_failures_total",
			Help: "Search index mirror failures after a committed primary write",
		}, []string{"collection", "reason"}),

		ResyncRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logbook_index_resync_requests_total",
			Help: "Index resync requests by result",
		}, []string{"result"}),

		IndexBreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logbook_index_breaker_open",
			Help: "Whether the search index circuit breaker is open (1) or closed (0)",
		}),

		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logbook_call_duration_seconds",
			Help:    "Duration of repository calls by method",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method"}),
	}
}

// IncrementWrite records a primary store write.
func (m *Metrics) IncrementWrite(collection, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Writes.WithLabelValues(collection, op, result).Inc()
}

// IncrementTransition records a lifecycle transition.
func (m *Metrics) IncrementTransition(kind, transition string) {
	if m != nil {
		m.LifecycleTransitions.WithLabelValues(kind, transition).Inc()
	}
}

// IncrementIndexSyncFailure records a failed mirror write.
func (m *Metrics) IncrementIndexSyncFailure(collection, reason string) {
	if m != nil {
		m.IndexSyncFailures.WithLabelValues(collection, reason).Inc()
	}
}

// IncrementResync records a resync request outcome: published, failed,
// applied, or rejected.
func (m *Metrics) IncrementResync(result string) {
	if m != nil {
		m.ResyncRequests.WithLabelValues(result).Inc()
	}
}

// SetBreakerOpen tracks the index breaker position.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.IndexBreakerOpen.Set(1)
		return
	}
	m.IndexBreakerOpen.Set(0)
}

// ObserveCall records the duration of a repository call.
func (m *Metrics) ObserveCall(method string, d time.Duration) {
	if m != nil {
		m.CallDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}
