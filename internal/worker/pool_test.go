package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	bpredis "github.com/angelmondragon/brandpulse/pkg/redis"
)

func newQueue(t *testing.T, attempts int) (*queue.Client, *bpredis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := bpredis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}), "bp")
	t.Cleanup(func() { _ = rdb.Close() })
	q, err := queue.New(rdb, queue.Options{Policies: map[enums.QueueName]queue.Policy{
		enums.QueueDailyMetrics: {
			Attempts: attempts,
			Backoff:  queue.Backoff{Type: enums.BackoffFixed, Delay: time.Hour},
			Lease:    30 * time.Second,
		},
	}})
	require.NoError(t, err)
	return q, rdb
}

func enqueueMetrics(t *testing.T, q *queue.Client) string {
	t.Helper()
	ref, err := jobs.Enqueue(context.Background(), q, jobs.DailyMetrics{BrandID: uuid.New(), Date: "2024-03-01"}, queue.EnqueueOptions{})
	require.NoError(t, err)
	return ref.ID
}

func runPool(t *testing.T, params PoolParams) func() {
	t.Helper()
	if params.Queue == "" {
		params.Queue = enums.QueueDailyMetrics
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	params.PollInterval = 5 * time.Millisecond
	pool, err := NewPool(params)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func countIn(t *testing.T, q *queue.Client, state enums.JobState) func() bool {
	t.Helper()
	return func() bool {
		counts, err := q.Counts(context.Background(), enums.QueueDailyMetrics)
		return err == nil && counts[state] == 1
	}
}

type fakeHealth struct {
	err   error
	calls atomic.Int32
}

func (f *fakeHealth) EnsureWarm(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestPoolCompletesJobAndReportsProgress(t *testing.T) {
	q, _ := newQueue(t, 3)
	id := enqueueMetrics(t, q)

	health := &fakeHealth{}
	stop := runPool(t, PoolParams{
		Jobs:   q,
		Health: health,
		Handler: HandlerFunc(func(ctx context.Context, job *queue.Job, progress Progress) error {
			progress(ctx, 50)
			return nil
		}),
	})
	require.Eventually(t, countIn(t, q, enums.JobStateCompleted), 2*time.Second, 5*time.Millisecond)
	stop()

	job, err := q.Get(context.Background(), enums.QueueDailyMetrics, id)
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress)
	assert.Equal(t, int32(1), health.calls.Load())
}

func TestPoolColdDatastoreFailsWithoutInvokingHandler(t *testing.T) {
	q, _ := newQueue(t, 3)
	enqueueMetrics(t, q)

	var invoked atomic.Int32
	stop := runPool(t, PoolParams{
		Jobs:   q,
		Health: &fakeHealth{err: errors.New("connection refused")},
		Handler: HandlerFunc(func(context.Context, *queue.Job, Progress) error {
			invoked.Add(1)
			return nil
		}),
	})
	require.Eventually(t, countIn(t, q, enums.JobStateDelayed), 2*time.Second, 5*time.Millisecond)
	stop()
	assert.Zero(t, invoked.Load())
}

func TestPoolTerminalFailureRunsHook(t *testing.T) {
	q, _ := newQueue(t, 5)
	enqueueMetrics(t, q)

	var mu sync.Mutex
	var hooked error
	stop := runPool(t, PoolParams{
		Jobs: q,
		Handler: HandlerFunc(func(context.Context, *queue.Job, Progress) error {
			return pkgerrors.New(pkgerrors.CodeDataIntegrity, "order never seen")
		}),
		OnTerminal: func(_ context.Context, _ *queue.Job, cause error) {
			mu.Lock()
			hooked = cause
			mu.Unlock()
		},
	})
	require.Eventually(t, countIn(t, q, enums.JobStateFailed), 2*time.Second, 5*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, pkgerrors.IsCode(hooked, pkgerrors.CodeDataIntegrity))
}

func TestPoolRecoversHandlerPanic(t *testing.T) {
	q, _ := newQueue(t, 1)
	enqueueMetrics(t, q)

	stop := runPool(t, PoolParams{
		Jobs: q,
		Handler: HandlerFunc(func(context.Context, *queue.Job, Progress) error {
			panic("boom")
		}),
	})
	require.Eventually(t, countIn(t, q, enums.JobStateFailed), 2*time.Second, 5*time.Millisecond)
	stop()
}

type denyLimiter struct {
	calls atomic.Int32
}

func (d *denyLimiter) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	d.calls.Add(1)
	return false, 1, nil
}

func (d *denyLimiter) FixedWindowRelease(context.Context, string) error {
	return nil
}

func TestPoolRespectsRateLimit(t *testing.T) {
	q, _ := newQueue(t, 1)
	enqueueMetrics(t, q)

	limiter := &denyLimiter{}
	var invoked atomic.Int32
	stop := runPool(t, PoolParams{
		Jobs:      q,
		Limiter:   limiter,
		RateLimit: RateLimit{Limit: 1, Window: 10 * time.Millisecond},
		Handler: HandlerFunc(func(context.Context, *queue.Job, Progress) error {
			invoked.Add(1)
			return nil
		}),
	})
	require.Eventually(t, func() bool { return limiter.calls.Load() > 2 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Zero(t, invoked.Load())
	require.True(t, countIn(t, q, enums.JobStateWaiting)())
}

func TestPoolSharedRateLimitOverRedis(t *testing.T) {
	q, rdb := newQueue(t, 1)
	for i := 0; i < 3; i++ {
		enqueueMetrics(t, q)
	}

	var invoked atomic.Int32
	stop := runPool(t, PoolParams{
		Jobs:      q,
		Limiter:   rdb,
		RateLimit: RateLimit{Limit: 1, Window: time.Hour},
		Handler: HandlerFunc(func(context.Context, *queue.Job, Progress) error {
			invoked.Add(1)
			return nil
		}),
	})
	require.Eventually(t, countIn(t, q, enums.JobStateCompleted), 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()
	assert.Equal(t, int32(1), invoked.Load())
}

func TestPoolIdlePollingKeepsRateBudget(t *testing.T) {
	q, rdb := newQueue(t, 1)

	var invoked atomic.Int32
	stop := runPool(t, PoolParams{
		Jobs:      q,
		Limiter:   rdb,
		RateLimit: RateLimit{Limit: 3, Window: time.Hour},
		Handler: HandlerFunc(func(context.Context, *queue.Job, Progress) error {
			invoked.Add(1)
			return nil
		}),
	})
	defer stop()

	// Many empty polls at 5ms before any work shows up.
	time.Sleep(100 * time.Millisecond)
	enqueueMetrics(t, q)

	require.Eventually(t, countIn(t, q, enums.JobStateCompleted), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), invoked.Load())
}

func TestNewPoolValidatesParams(t *testing.T) {
	q, _ := newQueue(t, 1)
	handler := HandlerFunc(func(context.Context, *queue.Job, Progress) error { return nil })

	_, err := NewPool(PoolParams{Queue: "nope", Jobs: q, Handler: handler, Logger: logger.Nop()})
	assert.Error(t, err)
	_, err = NewPool(PoolParams{Queue: enums.QueueDailyMetrics, Handler: handler, Logger: logger.Nop()})
	assert.Error(t, err)
	_, err = NewPool(PoolParams{Queue: enums.QueueDailyMetrics, Jobs: q, Logger: logger.Nop()})
	assert.Error(t, err)
	_, err = NewPool(PoolParams{Queue: enums.QueueDailyMetrics, Jobs: q, Handler: handler, Logger: logger.Nop(), RateLimit: RateLimit{Limit: 5}})
	assert.Error(t, err)
}

func TestRouterDispatchesDecodedPayload(t *testing.T) {
	router := NewRouter(nil)
	var got jobs.DailyMetrics
	router.Handle(enums.JobKindDailyMetrics, func(_ context.Context, p jobs.Payload, _ Progress) error {
		got = p.(jobs.DailyMetrics)
		return nil
	})

	brandID := uuid.New()
	data, err := json.Marshal(jobs.DailyMetrics{BrandID: brandID, Date: "2024-03-01"})
	require.NoError(t, err)

	err = router.Process(context.Background(), &queue.Job{Kind: enums.JobKindDailyMetrics, Payload: data}, nil)
	require.NoError(t, err)
	assert.Equal(t, brandID, got.BrandID)
	assert.Equal(t, []enums.JobKind{enums.JobKindDailyMetrics}, router.Kinds())

	err = router.Process(context.Background(), &queue.Job{Kind: enums.JobKindOrderCreated, Payload: data}, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = router.Process(context.Background(), &queue.Job{Kind: enums.JobKindDailyMetrics, Payload: json.RawMessage(`{}`)}, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGroupStopsAllPools(t *testing.T) {
	q, _ := newQueue(t, 1)
	handler := HandlerFunc(func(context.Context, *queue.Job, Progress) error { return nil })
	var pools []*Pool
	for i := 0; i < 2; i++ {
		p, err := NewPool(PoolParams{Queue: enums.QueueDailyMetrics, Jobs: q, Handler: handler, Logger: logger.Nop(), PollInterval: 5 * time.Millisecond})
		require.NoError(t, err)
		pools = append(pools, p)
	}
	group := NewGroup(pools...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- group.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("group did not stop")
	}
}
