package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobOutcome labels how a job execution ended.
type JobOutcome string

const (
	OutcomeCompleted JobOutcome = "completed"
	OutcomeRetried   JobOutcome = "retried"
	OutcomeFailed    JobOutcome = "failed"
)

// JobMetrics records queue worker activity per queue and job kind.
type JobMetrics struct {
	duration    *prometheus.HistogramVec
	outcomes    *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	reclaimed   *prometheus.CounterVec
}

// NewJobMetrics registers the worker metrics on the provided registerer.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Handler duration of queue jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "kind"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_outcomes_total",
		Help: "Queue job executions by outcome.",
	}, []string{"queue", "kind", "outcome"})
	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_rate_limited_total",
		Help: "Dequeue attempts deferred by the distributed rate limiter.",
	}, []string{"queue"})
	reclaimed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_stalled_reclaimed_total",
		Help: "Jobs returned to waiting after their lease expired.",
	}, []string{"queue"})
	reg.MustRegister(duration, outcomes, rateLimited, reclaimed)
	return &JobMetrics{
		duration:    duration,
		outcomes:    outcomes,
		rateLimited: rateLimited,
		reclaimed:   reclaimed,
	}
}

// ObserveDuration records handler latency.
func (m *JobMetrics) ObserveDuration(queue, kind string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(queue), normalizeLabel(kind)).Observe(duration.Seconds())
}

// IncOutcome counts a finished execution.
func (m *JobMetrics) IncOutcome(queue, kind string, outcome JobOutcome) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(queue), normalizeLabel(kind), string(outcome)).Inc()
}

// IncRateLimited counts a deferred dequeue.
func (m *JobMetrics) IncRateLimited(queue string) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.WithLabelValues(normalizeLabel(queue)).Inc()
}

// AddReclaimed counts stalled jobs moved back to waiting.
func (m *JobMetrics) AddReclaimed(queue string, n int) {
	if m == nil || m.reclaimed == nil || n <= 0 {
		return
	}
	m.reclaimed.WithLabelValues(normalizeLabel(queue)).Add(float64(n))
}
