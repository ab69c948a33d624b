package enums

import "fmt"

// JobKind discriminates job payloads carried by the queue.
type JobKind string

const (
	JobKindOrderCreated   JobKind = "order_created"
	JobKindRefundCreated  JobKind = "refund_created"
	JobKindHistoricalSync JobKind = "historical_sync"
	JobKindDailyMetrics   JobKind = "daily_metrics"
)

var validJobKinds = []JobKind{
	JobKindOrderCreated,
	JobKindRefundCreated,
	JobKindHistoricalSync,
	JobKindDailyMetrics,
}

// IsValid reports whether the kind is known.
func (k JobKind) IsValid() bool {
	for _, candidate := range validJobKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func (k JobKind) String() string {
	return string(k)
}

// ParseJobKind converts raw strings into JobKind.
func ParseJobKind(value string) (JobKind, error) {
	for _, candidate := range validJobKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job kind %q", value)
}

// QueueName identifies a durable work queue.
type QueueName string

const (
	QueueCommerceEvents QueueName = "commerce-events"
	QueueDailyMetrics   QueueName = "daily-metrics"
	QueueHistoricalSync QueueName = "historical-sync"
)

// Queues lists every queue the workers consume.
var Queues = []QueueName{
	QueueCommerceEvents,
	QueueDailyMetrics,
	QueueHistoricalSync,
}

// IsValid reports whether the queue is known.
func (q QueueName) IsValid() bool {
	for _, candidate := range Queues {
		if candidate == q {
			return true
		}
	}
	return false
}

func (q QueueName) String() string {
	return string(q)
}

// QueueFor routes a job kind to the queue that processes it.
func QueueFor(kind JobKind) (QueueName, error) {
	switch kind {
	case JobKindOrderCreated, JobKindRefundCreated:
		return QueueCommerceEvents, nil
	case JobKindDailyMetrics:
		return QueueDailyMetrics, nil
	case JobKindHistoricalSync:
		return QueueHistoricalSync, nil
	default:
		return "", fmt.Errorf("no queue for job kind %q", kind)
	}
}

// JobState is the lifecycle position of a queued job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobStates lists states in lifecycle order.
var JobStates = []JobState{
	JobStateWaiting,
	JobStateDelayed,
	JobStateActive,
	JobStateCompleted,
	JobStateFailed,
}

// IsPending reports whether the job has not been picked up yet.
func (s JobState) IsPending() bool {
	return s == JobStateWaiting || s == JobStateDelayed
}

// IsTerminal reports whether the job will not run again.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// IsValid reports whether the backoff type is known.
func (b BackoffType) IsValid() bool {
	return b == BackoffFixed || b == BackoffExponential
}
