package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
)

const (
	defaultLease    = 30 * time.Second
	maxErrorLength  = 2048
	defaultAttempts = 1
)

// ErrLeaseLost is returned when a job's lease token no longer matches, which
// happens after the job was reclaimed as stalled and handed to another worker.
var ErrLeaseLost = errors.New("job lease lost")

// backend is the broker surface the queue needs.
type backend interface {
	Cmdable() redis.Cmdable
	QueueKey(queue string) string
}

// Options configure a Client.
type Options struct {
	Policies map[enums.QueueName]Policy
	Clock    func() time.Time
}

// Client manages every named queue on one broker.
type Client struct {
	backend  backend
	policies map[enums.QueueName]Policy
	now      func() time.Time
	newID    func() string
}

// New constructs a queue client.
func New(b backend, opts Options) (*Client, error) {
	if b == nil || b.Cmdable() == nil {
		return nil, errors.New("redis client required for queue")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	policies := make(map[enums.QueueName]Policy, len(opts.Policies))
	for name, policy := range opts.Policies {
		policies[name] = normalizePolicy(policy)
	}
	return &Client{
		backend:  b,
		policies: policies,
		now:      clock,
		newID:    uuid.NewString,
	}, nil
}

func normalizePolicy(p Policy) Policy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}
	if p.Lease <= 0 {
		p.Lease = defaultLease
	}
	if p.Backoff.Type == "" {
		p.Backoff.Type = enums.BackoffFixed
	}
	return p
}

// Policy returns the effective policy for queue.
func (c *Client) Policy(queue enums.QueueName) Policy {
	if p, ok := c.policies[queue]; ok {
		return p
	}
	return normalizePolicy(Policy{})
}

type keys struct {
	jobPrefix string
	waiting   string
	delayed   string
	active    string
	completed string
	failed    string
	dedupe    string
}

func (c *Client) keysFor(queue enums.QueueName) keys {
	base := c.backend.QueueKey(string(queue))
	return keys{
		jobPrefix: base + ":job:",
		waiting:   base + ":waiting",
		delayed:   base + ":delayed",
		active:    base + ":active",
		completed: base + ":completed",
		failed:    base + ":failed",
		dedupe:    base + ":dedupe",
	}
}

// Enqueue adds a job. When opts.IdempotencyKey names a job that is still
// waiting or delayed, that job's payload is replaced and no new entry is made.
func (c *Client) Enqueue(ctx context.Context, queue enums.QueueName, kind enums.JobKind, payload json.RawMessage, opts EnqueueOptions) (JobRef, error) {
	if !queue.IsValid() {
		return JobRef{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown queue %q", queue))
	}
	if !kind.IsValid() {
		return JobRef{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown job kind %q", kind))
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	policy := c.Policy(queue)
	attempts := policy.Attempts
	if opts.Attempts > 0 {
		attempts = opts.Attempts
	}
	backoff := policy.Backoff
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = policy.DefaultDelay
	}

	k := c.keysFor(queue)
	res, err := enqueueScript.Run(ctx, c.backend.Cmdable(),
		[]string{k.dedupe, k.waiting, k.delayed},
		k.jobPrefix,
		c.newID(),
		strings.TrimSpace(opts.IdempotencyKey),
		string(kind),
		string(payload),
		attempts,
		string(backoff.Type),
		backoff.Delay.Milliseconds(),
		c.now().UnixMilli(),
		delay.Milliseconds(),
		string(queue),
	).Slice()
	if err != nil {
		return JobRef{}, fmt.Errorf("enqueue %s: %w", queue, err)
	}
	if len(res) != 2 {
		return JobRef{}, fmt.Errorf("enqueue %s: unexpected reply %v", queue, res)
	}
	coalesced, _ := res[1].(int64)
	return JobRef{ID: fmt.Sprint(res[0]), Coalesced: coalesced == 1}, nil
}

// Lease promotes due delayed jobs and hands the oldest waiting job to the
// caller. It returns nil when nothing is ready.
func (c *Client) Lease(ctx context.Context, queue enums.QueueName) (*Job, error) {
	policy := c.Policy(queue)
	k := c.keysFor(queue)
	res, err := leaseScript.Run(ctx, c.backend.Cmdable(),
		[]string{k.waiting, k.delayed, k.active},
		k.jobPrefix,
		c.now().UnixMilli(),
		policy.Lease.Milliseconds(),
		uuid.NewString(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", queue, err)
	}
	return jobFromHash(pairsToMap(res)), nil
}

// Heartbeat extends the lease of a job still held by the caller.
func (c *Client) Heartbeat(ctx context.Context, job *Job) error {
	policy := c.Policy(job.Queue)
	k := c.keysFor(job.Queue)
	ok, err := heartbeatScript.Run(ctx, c.backend.Cmdable(),
		[]string{k.active},
		k.jobPrefix, job.ID, job.LeaseToken, c.now().UnixMilli(), policy.Lease.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", job.ID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

// UpdateProgress records coarse progress, clamped to 0..100.
func (c *Client) UpdateProgress(ctx context.Context, job *Job, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	k := c.keysFor(job.Queue)
	ok, err := progressScript.Run(ctx, c.backend.Cmdable(), []string{k.active},
		k.jobPrefix, job.ID, job.LeaseToken, pct,
	).Int()
	if err != nil {
		return fmt.Errorf("progress %s: %w", job.ID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	job.Progress = pct
	return nil
}

// Complete marks an active job as completed and applies retention.
func (c *Client) Complete(ctx context.Context, job *Job) error {
	policy := c.Policy(job.Queue)
	k := c.keysFor(job.Queue)
	ok, err := completeScript.Run(ctx, c.backend.Cmdable(),
		[]string{k.active, k.completed, k.dedupe},
		k.jobPrefix, job.ID, job.LeaseToken, c.now().UnixMilli(),
		policy.RemoveOnComplete.Age.Milliseconds(), countArg(policy.RemoveOnComplete.Count),
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	job.State = enums.JobStateCompleted
	job.Progress = 100
	return nil
}

// Fail records a failed attempt. Retryable causes with attempts remaining
// move the job to delayed using the backoff policy; everything else is
// terminal and kept for inspection per the failure retention.
func (c *Client) Fail(ctx context.Context, job *Job, cause error) (FailOutcome, error) {
	policy := c.Policy(job.Queue)
	k := c.keysFor(job.Queue)
	now := c.now()

	retry := pkgerrors.IsRetryable(cause) && job.AttemptsMade < job.AttemptsAllowed
	var wait time.Duration
	if retry {
		wait = job.Backoff.Next(job.AttemptsMade - 1)
	}
	retryFlag := "0"
	if retry {
		retryFlag = "1"
	}

	res, err := failScript.Run(ctx, c.backend.Cmdable(),
		[]string{k.active, k.delayed, k.failed, k.dedupe},
		k.jobPrefix, job.ID, job.LeaseToken, now.UnixMilli(),
		truncateError(cause), retryFlag, wait.Milliseconds(),
		policy.RemoveOnFail.Age.Milliseconds(), countArg(policy.RemoveOnFail.Count),
	).Int()
	if err != nil {
		return FailOutcome{}, fmt.Errorf("fail %s: %w", job.ID, err)
	}
	switch res {
	case 0:
		return FailOutcome{}, ErrLeaseLost
	case 1:
		job.State = enums.JobStateDelayed
		return FailOutcome{Retried: true, NextRunAt: now.Add(wait)}, nil
	default:
		job.State = enums.JobStateFailed
		return FailOutcome{}, nil
	}
}

// ReclaimStalled returns jobs whose lease expired to waiting. Jobs that have
// used every attempt are failed instead. It reports both counts.
func (c *Client) ReclaimStalled(ctx context.Context, queue enums.QueueName) (reclaimed, exhausted int, err error) {
	k := c.keysFor(queue)
	res, err := reclaimScript.Run(ctx, c.backend.Cmdable(),
		[]string{k.active, k.waiting, k.failed, k.dedupe},
		k.jobPrefix, c.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("reclaim %s: %w", queue, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("reclaim %s: unexpected reply %v", queue, res)
	}
	return int(res[0]), int(res[1]), nil
}

// Clean applies age and count retention to the finished sets.
func (c *Client) Clean(ctx context.Context, queue enums.QueueName) (int, error) {
	policy := c.Policy(queue)
	k := c.keysFor(queue)
	res, err := cleanScript.Run(ctx, c.backend.Cmdable(),
		[]string{k.completed, k.failed},
		k.jobPrefix, c.now().UnixMilli(),
		policy.RemoveOnComplete.Age.Milliseconds(), countArg(policy.RemoveOnComplete.Count),
		policy.RemoveOnFail.Age.Milliseconds(), countArg(policy.RemoveOnFail.Count),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", queue, err)
	}
	var total int64
	for _, n := range res {
		total += n
	}
	return int(total), nil
}

// Get loads a job by id. It returns nil when the job does not exist.
func (c *Client) Get(ctx context.Context, queue enums.QueueName, id string) (*Job, error) {
	k := c.keysFor(queue)
	fields, err := c.backend.Cmdable().HGetAll(ctx, k.jobPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return jobFromHash(fields), nil
}

// Counts reports how many jobs sit in each state.
func (c *Client) Counts(ctx context.Context, queue enums.QueueName) (map[enums.JobState]int64, error) {
	k := c.keysFor(queue)
	pipe := c.backend.Cmdable().Pipeline()
	waiting := pipe.LLen(ctx, k.waiting)
	delayed := pipe.ZCard(ctx, k.delayed)
	active := pipe.ZCard(ctx, k.active)
	completed := pipe.ZCard(ctx, k.completed)
	failed := pipe.ZCard(ctx, k.failed)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("counts %s: %w", queue, err)
	}
	return map[enums.JobState]int64{
		enums.JobStateWaiting:   waiting.Val(),
		enums.JobStateDelayed:   delayed.Val(),
		enums.JobStateActive:    active.Val(),
		enums.JobStateCompleted: completed.Val(),
		enums.JobStateFailed:    failed.Val(),
	}, nil
}

func countArg(count int64) int64 {
	if count <= 0 {
		return -1
	}
	return count
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func pairsToMap(values []any) map[string]string {
	out := make(map[string]string, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		out[fmt.Sprint(values[i])] = toString(values[i+1])
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
