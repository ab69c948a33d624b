package queue

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/angelmondragon/brandpulse/pkg/enums"
)

// Job is a unit of work stored in a named queue.
type Job struct {
	ID              string
	Queue           enums.QueueName
	Kind            enums.JobKind
	Payload         json.RawMessage
	IdempotencyKey  string
	AttemptsAllowed int
	AttemptsMade    int
	Backoff         Backoff
	State           enums.JobState
	Progress        int
	LastError       string
	CreatedAt       time.Time
	RunAt           time.Time
	ProcessedAt     *time.Time
	FinishedAt      *time.Time
	LeaseToken      string
	LeaseExpiresAt  *time.Time
}

// JobRef identifies an enqueued job.
type JobRef struct {
	ID        string
	Coalesced bool
}

// Backoff describes the wait before a failed job becomes ready again.
type Backoff struct {
	Type  enums.BackoffType
	Delay time.Duration
}

const maxBackoffShift = 20

// Next returns the wait after priorFailures earlier failed attempts.
// Exponential backoff doubles the base delay for each prior failure.
func (b Backoff) Next(priorFailures int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != enums.BackoffExponential || priorFailures <= 0 {
		return b.Delay
	}
	if priorFailures > maxBackoffShift {
		priorFailures = maxBackoffShift
	}
	delay := float64(b.Delay) * math.Pow(2, float64(priorFailures))
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Retention bounds how many finished jobs are kept and for how long.
type Retention struct {
	Age   time.Duration
	Count int64
}

// Policy configures retries, leases and retention for one queue.
type Policy struct {
	Attempts         int
	Backoff          Backoff
	Lease            time.Duration
	DefaultDelay     time.Duration
	RemoveOnComplete Retention
	RemoveOnFail     Retention
}

// EnqueueOptions override the queue policy for a single job.
type EnqueueOptions struct {
	IdempotencyKey string
	Delay          time.Duration
	Attempts       int
	Backoff        *Backoff
}

// FailOutcome reports what Fail did with the job.
type FailOutcome struct {
	Retried   bool
	NextRunAt time.Time
}

const (
	fieldID              = "id"
	fieldQueue           = "queue"
	fieldKind            = "kind"
	fieldPayload         = "payload"
	fieldIdempotencyKey  = "idempotency_key"
	fieldAttemptsAllowed = "attempts_allowed"
	fieldAttemptsMade    = "attempts_made"
	fieldBackoffType     = "backoff_type"
	fieldBackoffDelay    = "backoff_delay_ms"
	fieldState           = "state"
	fieldProgress        = "progress"
	fieldLastError       = "last_error"
	fieldCreatedAt       = "created_at"
	fieldRunAt           = "run_at"
	fieldProcessedAt     = "processed_at"
	fieldFinishedAt      = "finished_at"
	fieldLeaseToken      = "lease_token"
	fieldLeaseExpiresAt  = "lease_expires_at"
)

func jobFromHash(fields map[string]string) *Job {
	if len(fields) == 0 || fields[fieldID] == "" {
		return nil
	}
	job := &Job{
		ID:              fields[fieldID],
		Queue:           enums.QueueName(fields[fieldQueue]),
		Kind:            enums.JobKind(fields[fieldKind]),
		Payload:         json.RawMessage(fields[fieldPayload]),
		IdempotencyKey:  fields[fieldIdempotencyKey],
		AttemptsAllowed: atoi(fields[fieldAttemptsAllowed]),
		AttemptsMade:    atoi(fields[fieldAttemptsMade]),
		Backoff: Backoff{
			Type:  enums.BackoffType(fields[fieldBackoffType]),
			Delay: time.Duration(atoi64(fields[fieldBackoffDelay])) * time.Millisecond,
		},
		State:      enums.JobState(fields[fieldState]),
		Progress:   atoi(fields[fieldProgress]),
		LastError:  fields[fieldLastError],
		CreatedAt:  fromMillis(fields[fieldCreatedAt]),
		RunAt:      fromMillis(fields[fieldRunAt]),
		LeaseToken: fields[fieldLeaseToken],
	}
	job.ProcessedAt = optionalMillis(fields[fieldProcessedAt])
	job.FinishedAt = optionalMillis(fields[fieldFinishedAt])
	job.LeaseExpiresAt = optionalMillis(fields[fieldLeaseExpiresAt])
	return job
}

func atoi(value string) int {
	n, _ := strconv.Atoi(value)
	return n
}

func atoi64(value string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(value, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}

func fromMillis(value string) time.Time {
	ms := atoi64(value)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(value string) *time.Time {
	t := fromMillis(value)
	if t.IsZero() {
		return nil
	}
	return &t
}
