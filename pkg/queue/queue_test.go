package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	bpredis "github.com/angelmondragon/brandpulse/pkg/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, policies map[enums.QueueName]Policy) (*Client, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := bpredis.NewFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "")
	t.Cleanup(func() { _ = rdb.Close() })
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	q, err := New(rdb, Options{Policies: policies, Clock: clock.Now})
	require.NoError(t, err)
	return q, clock, srv
}

func payload(v string) json.RawMessage {
	return json.RawMessage(`{"v":"` + v + `"}`)
}

func TestEnqueueAndLease(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	ctx := context.Background()

	ref, err := q.Enqueue(ctx, enums.QueueCommerceEvents, enums.JobKindOrderCreated, payload("a"), EnqueueOptions{})
	require.NoError(t, err)
	require.False(t, ref.Coalesced)

	job, err := q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, ref.ID, job.ID)
	require.Equal(t, enums.JobStateActive, job.State)
	require.Equal(t, enums.JobKindOrderCreated, job.Kind)
	require.Equal(t, 1, job.AttemptsMade)
	require.NotEmpty(t, job.LeaseToken)
	require.JSONEq(t, `{"v":"a"}`, string(job.Payload))

	none, err := q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestLeaseIsFIFO(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, enums.QueueCommerceEvents, enums.JobKindOrderCreated, payload("1"), EnqueueOptions{})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, enums.QueueCommerceEvents, enums.JobKindOrderCreated, payload("2"), EnqueueOptions{})
	require.NoError(t, err)

	a, err := q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	b, err := q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.Equal(t, first.ID, a.ID)
	require.Equal(t, second.ID, b.ID)
}

func TestEnqueueCoalescesPendingJobs(t *testing.T) {
	q, clock, _ := newTestQueue(t, nil)
	ctx := context.Background()
	opts := EnqueueOptions{IdempotencyKey: "daily-metrics:brand-1:2024-03-01", Delay: 5 * time.Second}

	first, err := q.Enqueue(ctx, enums.QueueDailyMetrics, enums.JobKindDailyMetrics, payload("first"), opts)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, enums.QueueDailyMetrics, enums.JobKindDailyMetrics, payload("second"), opts)
	require.NoError(t, err)
	require.True(t, second.Coalesced)
	require.Equal(t, first.ID, second.ID)

	counts, err := q.Counts(ctx, enums.QueueDailyMetrics)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[enums.JobStateDelayed])

	clock.Advance(6 * time.Second)
	job, err := q.Lease(ctx, enums.QueueDailyMetrics)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.JSONEq(t, `{"v":"second"}`, string(job.Payload), "last write wins on payload")

	again, err := q.Lease(ctx, enums.QueueDailyMetrics)
	require.NoError(t, err)
	require.Nil(t, again, "coalesced job must be delivered exactly once")
}

func TestEnqueueAfterLeaseCreatesNewJob(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	ctx := context.Background()
	opts := EnqueueOptions{IdempotencyKey: "daily-metrics:brand-1:2024-03-01"}

	first, err := q.Enqueue(ctx, enums.QueueDailyMetrics, enums.JobKindDailyMetrics, payload("first"), opts)
	require.NoError(t, err)
	_, err = q.Lease(ctx, enums.QueueDailyMetrics)
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, enums.QueueDailyMetrics, enums.JobKindDailyMetrics, payload("second"), opts)
	require.NoError(t, err)
	require.False(t, second.Coalesced)
	require.NotEqual(t, first.ID, second.ID)
}

func TestDelayedJobIsNotLeasedEarly(t *testing.T) {
	q, clock, _ := newTestQueue(t, map[enums.QueueName]Policy{
		enums.QueueDailyMetrics: {DefaultDelay: 5 * time.Second},
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, enums.QueueDailyMetrics, enums.JobKindDailyMetrics, payload("a"), EnqueueOptions{})
	require.NoError(t, err)

	job, err := q.Lease(ctx, enums.QueueDailyMetrics)
	require.NoError(t, err)
	require.Nil(t, job)

	clock.Advance(5 * time.Second)
	job, err = q.Lease(ctx, enums.QueueDailyMetrics)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestCompleteAppliesRetention(t *testing.T) {
	q, clock, srv := newTestQueue(t, map[enums.QueueName]Policy{
		enums.QueueCommerceEvents: {RemoveOnComplete: Retention{Age: time.Hour, Count: 2}},
	})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ref, err := q.Enqueue(ctx, enums.QueueCommerceEvents, enums.JobKindOrderCreated, payload("x"), EnqueueOptions{})
		require.NoError(t, err)
		ids = append(ids, ref.ID)
		job, err := q.Lease(ctx, enums.QueueCommerceEvents)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job))
		clock.Advance(time.Second)
	}

	counts, err := q.Counts(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[enums.JobStateCompleted])
	require.False(t, srv.Exists("bp:queue:commerce-events:job:"+ids[0]), "oldest completed job purged")

	kept, err := q.Get(ctx, enums.QueueCommerceEvents, ids[2])
	require.NoError(t, err)
	require.Equal(t, enums.JobStateCompleted, kept.State)
	require.Equal(t, 100, kept.Progress)

	clock.Advance(2 * time.Hour)
	removed, err := q.Clean(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}

func TestFailRetriesWithExponentialBackoff(t *testing.T) {
	q, clock, _ := newTestQueue(t, map[enums.QueueName]Policy{
		enums.QueueCommerceEvents: {
			Attempts: 3,
			Backoff:  Backoff{Type: enums.BackoffExponential, Delay: 2 * time.Second},
		},
	})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, enums.QueueCommerceEvents, enums.JobKindRefundCreated, payload("r"), EnqueueOptions{})
	require.NoError(t, err)

	transient := errors.New("connection refused")

	job, err := q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	outcome, err := q.Fail(ctx, job, transient)
	require.NoError(t, err)
	require.True(t, outcome.Retried)
	require.Equal(t, clock.Now().Add(2*time.Second), outcome.NextRunAt)

	clock.Advance(1999 * time.Millisecond)
	early, err := q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.Nil(t, early)

	clock.Advance(time.Millisecond)
	job, err = q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.Equal(t, 2, job.AttemptsMade)
	outcome, err = q.Fail(ctx, job, transient)
	require.NoError(t, err)
	require.True(t, outcome.Retried)
	require.Equal(t, clock.Now().Add(4*time.Second), outcome.NextRunAt)

	clock.Advance(4 * time.Second)
	job, err = q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	outcome, err = q.Fail(ctx, job, transient)
	require.NoError(t, err)
	require.False(t, outcome.Retried, "attempts exhausted")

	stored, err := q.Get(ctx, enums.QueueCommerceEvents, job.ID)
	require.NoError(t, err)
	require.Equal(t, enums.JobStateFailed, stored.State)
	require.Equal(t, "connection refused", stored.LastError)
}

func TestFailDataIntegrityIsTerminal(t *testing.T) {
	q, _, _ := newTestQueue(t, map[enums.QueueName]Policy{
		enums.QueueCommerceEvents: {Attempts: 5},
	})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, enums.QueueCommerceEvents, enums.JobKindRefundCreated, payload("r"), EnqueueOptions{})
	require.NoError(t, err)
	job, err := q.Lease(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)

	outcome, err := q.Fail(ctx, job, pkgerrors.New(pkgerrors.CodeDataIntegrity, "order never seeded"))
	require.NoError(t, err)
	require.False(t, outcome.Retried)

	counts, err := q.Counts(ctx, enums.QueueCommerceEvents)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[enums.JobStateFailed])
	require.Equal(t, int64(0), counts[enums.JobStateDelayed])
}

func TestTruncateErrorKeepsRunesWhole(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want int
	}{
		{name: "short", msg: "boom", want: 4},
		{name: "ascii over limit", msg: strings.Repeat("a", maxErrorLength+10), want: maxErrorLength},
		{name: "two byte rune on boundary", msg: strings.Repeat("a", maxErrorLength-1) + "é", want: maxErrorLength - 1},
		{name: "four byte runes", msg: strings.Repeat("🛒", maxErrorLength), want: maxErrorLength},
		{name: "three byte rune on boundary", msg: "a" + strings.Repeat("€", maxErrorLength/3+1), want: maxErrorLength - 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateError(errors.New(tc.msg))
			require.True(t, utf8.ValidString(got))
			require.Len(t, got, tc.want)
		})
	}
	require.Empty(t, truncateError(nil))
}

func TestHeartbeatAndStalledReclaim(t *testing.T) {
	q, clock, _ := newTestQueue(t, map[enums.QueueName]Policy{
		enums.QueueHistoricalSync: {Attempts: 2, Lease: 10 * time.Second},
	})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, enums.QueueHistoricalSync, enums.JobKindHistoricalSync, payload("s"), EnqueueOptions{})
	require.NoError(t, err)

	job, err := q.Lease(ctx, enums.QueueHistoricalSync)
	require.NoError(t, err)

	clock.Advance(8 * time.Second)
	require.NoError(t, q.Heartbeat(ctx, job))
	require.NoError(t, q.UpdateProgress(ctx, job, 140))
	require.Equal(t, 100, job.Progress)

	clock.Advance(8 * time.Second)
	reclaimed, exhausted, err := q.ReclaimStalled(ctx, enums.QueueHistoricalSync)
	require.NoError(t, err)
	require.Zero(t, reclaimed, "heartbeat extended the lease")
	require.Zero(t, exhausted)

	clock.Advance(3 * time.Second)
	reclaimed, _, err = q.ReclaimStalled(ctx, enums.QueueHistoricalSync)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)

	require.ErrorIs(t, q.Heartbeat(ctx, job), ErrLeaseLost)
	require.ErrorIs(t, q.Complete(ctx, job), ErrLeaseLost)

	again, err := q.Lease(ctx, enums.QueueHistoricalSync)
	require.NoError(t, err)
	require.Equal(t, job.ID, again.ID)
	require.Equal(t, 2, again.AttemptsMade)

	clock.Advance(11 * time.Second)
	reclaimed, exhausted, err = q.ReclaimStalled(ctx, enums.QueueHistoricalSync)
	require.NoError(t, err)
	require.Zero(t, reclaimed)
	require.Equal(t, 1, exhausted)

	stored, err := q.Get(ctx, enums.QueueHistoricalSync, job.ID)
	require.NoError(t, err)
	require.Equal(t, enums.JobStateFailed, stored.State)
}

func TestEnqueueValidatesInput(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	_, err := q.Enqueue(context.Background(), "unknown", enums.JobKindOrderCreated, nil, EnqueueOptions{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = q.Enqueue(context.Background(), enums.QueueCommerceEvents, "bogus", nil, EnqueueOptions{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestBackoffNext(t *testing.T) {
	fixed := Backoff{Type: enums.BackoffFixed, Delay: 5 * time.Second}
	require.Equal(t, 5*time.Second, fixed.Next(0))
	require.Equal(t, 5*time.Second, fixed.Next(4))

	exp := Backoff{Type: enums.BackoffExponential, Delay: 30 * time.Second}
	require.Equal(t, 30*time.Second, exp.Next(0))
	require.Equal(t, 60*time.Second, exp.Next(1))
	require.Equal(t, 120*time.Second, exp.Next(2))
	require.Zero(t, Backoff{}.Next(3))
}

func TestPoliciesFromConfig(t *testing.T) {
	policies := PoliciesFromConfig(config.QueueConfig{
		CommerceAttempts:  5,
		CommerceBackoff:   2 * time.Second,
		MetricsAttempts:   3,
		MetricsBackoff:    5 * time.Second,
		MetricsDelay:      5 * time.Second,
		SyncAttempts:      3,
		CompletedMaxCount: 1000,
		FailedMaxAge:      168 * time.Hour,
	})
	require.Len(t, policies, len(enums.Queues))

	commerce := policies[enums.QueueCommerceEvents]
	require.Equal(t, 5, commerce.Attempts)
	require.Equal(t, enums.BackoffExponential, commerce.Backoff.Type)
	require.Zero(t, commerce.DefaultDelay)

	metrics := policies[enums.QueueDailyMetrics]
	require.Equal(t, enums.BackoffFixed, metrics.Backoff.Type)
	require.Equal(t, 5*time.Second, metrics.DefaultDelay)
	require.Equal(t, int64(1000), metrics.RemoveOnComplete.Count)
	require.Equal(t, 168*time.Hour, metrics.RemoveOnFail.Age)
}
