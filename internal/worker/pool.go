package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/metrics"
	"github.com/angelmondragon/brandpulse/pkg/queue"
)

const (
	defaultConcurrency     = 1
	defaultPollInterval    = 500 * time.Millisecond
	defaultStalledInterval = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Progress reports 0..100 completion for the running job.
type Progress func(ctx context.Context, pct int)

// Handler processes one leased job.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job, progress Progress) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, job *queue.Job, progress Progress) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, job *queue.Job, progress Progress) error {
	return fn(ctx, job, progress)
}

// TerminalFailureHook runs after a job fails with no retries left.
type TerminalFailureHook func(ctx context.Context, job *queue.Job, cause error)

// Queue is the consumer half of the job queue.
type Queue interface {
	Policy(name enums.QueueName) queue.Policy
	Lease(ctx context.Context, name enums.QueueName) (*queue.Job, error)
	Heartbeat(ctx context.Context, job *queue.Job) error
	UpdateProgress(ctx context.Context, job *queue.Job, pct int) error
	Complete(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, cause error) (queue.FailOutcome, error)
	ReclaimStalled(ctx context.Context, name enums.QueueName) (int, int, error)
}

// RateLimiter is a distributed fixed window shared by every consumer of a queue.
// Release returns a token when the lease that followed found nothing to run.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	FixedWindowRelease(ctx context.Context, scope string) error
}

// HealthChecker verifies the datastore is reachable before a job runs.
type HealthChecker interface {
	EnsureWarm(ctx context.Context) error
}

// RateLimit caps leases per window. A zero Limit disables limiting.
type RateLimit struct {
	Limit  int64
	Window time.Duration
}

// PoolParams configure a Pool.
type PoolParams struct {
	Queue           enums.QueueName
	Jobs            Queue
	Handler         Handler
	Logger          *logger.Logger
	Health          HealthChecker
	Limiter         RateLimiter
	RateLimit       RateLimit
	Metrics         *metrics.JobMetrics
	Concurrency     int
	PollInterval    time.Duration
	StalledInterval time.Duration
	ShutdownTimeout time.Duration
	OnTerminal      TerminalFailureHook
}

// Pool consumes one queue with bounded concurrency.
type Pool struct {
	queue           enums.QueueName
	jobs            Queue
	handler         Handler
	logg            *logger.Logger
	health          HealthChecker
	limiter         RateLimiter
	rate            RateLimit
	metrics         *metrics.JobMetrics
	concurrency     int
	pollInterval    time.Duration
	stalledInterval time.Duration
	shutdownTimeout time.Duration
	leaseDuration   time.Duration
	onTerminal      TerminalFailureHook
}

// NewPool validates params and applies defaults.
func NewPool(params PoolParams) (*Pool, error) {
	if !params.Queue.IsValid() {
		return nil, fmt.Errorf("unknown queue %q", params.Queue)
	}
	if params.Jobs == nil {
		return nil, errors.New("job queue is required")
	}
	if params.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.RateLimit.Limit > 0 && (params.Limiter == nil || params.RateLimit.Window <= 0) {
		return nil, errors.New("rate limit requires a limiter and a positive window")
	}

	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	stalled := params.StalledInterval
	if stalled <= 0 {
		stalled = defaultStalledInterval
	}
	shutdown := params.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}

	return &Pool{
		queue:           params.Queue,
		jobs:            params.Jobs,
		handler:         params.Handler,
		logg:            params.Logger,
		health:          params.Health,
		limiter:         params.Limiter,
		rate:            params.RateLimit,
		metrics:         params.Metrics,
		concurrency:     concurrency,
		pollInterval:    poll,
		stalledInterval: stalled,
		shutdownTimeout: shutdown,
		leaseDuration:   params.Jobs.Policy(params.Queue).Lease,
		onTerminal:      params.OnTerminal,
	}, nil
}

// Queue returns the queue the pool consumes.
func (p *Pool) Queue() enums.QueueName {
	return p.queue
}

// Run leases and processes jobs until ctx is canceled, then waits for
// in-flight jobs. Jobs still running after the shutdown timeout see their
// context canceled and are recovered later by the stalled reclaimer.
func (p *Pool) Run(ctx context.Context) error {
	ctx = p.logg.WithQueue(ctx, p.queue.String())
	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx, jobsCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()

	p.logg.Info(p.logg.WithField(ctx, "concurrency", p.concurrency), "worker pool started")
	<-ctx.Done()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(p.shutdownTimeout):
		p.logg.Warn(ctx, "shutdown timeout reached; canceling in-flight jobs")
		cancelJobs()
		<-drained
	}
	p.logg.Info(ctx, "worker pool stopped")
	return nil
}

func (p *Pool) consume(ctx, jobsCtx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		allowed, err := p.allow(ctx)
		if err != nil {
			p.logg.Error(ctx, "rate limiter check failed", err)
			p.sleep(ctx, p.pollInterval)
			continue
		}
		if !allowed {
			p.metrics.IncRateLimited(p.queue.String())
			p.sleep(ctx, p.rateWait())
			continue
		}

		job, err := p.jobs.Lease(ctx, p.queue)
		if err != nil {
			if ctx.Err() == nil {
				p.logg.Error(ctx, "lease failed", err)
			}
			p.release(ctx)
			p.sleep(ctx, p.pollInterval)
			continue
		}
		if job == nil {
			p.release(ctx)
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.process(jobsCtx, job)
	}
}

func (p *Pool) allow(ctx context.Context) (bool, error) {
	if p.rate.Limit <= 0 {
		return true, nil
	}
	allowed, _, err := p.limiter.FixedWindowAllow(ctx, p.rateScope(), p.rate.Limit, p.rate.Window)
	return allowed, err
}

// release gives back the token taken by allow when no job was leased, so
// idle polling does not drain the window.
func (p *Pool) release(ctx context.Context) {
	if p.rate.Limit <= 0 {
		return
	}
	if err := p.limiter.FixedWindowRelease(context.WithoutCancel(ctx), p.rateScope()); err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "rate limit release failed")
	}
}

func (p *Pool) rateScope() string {
	return "worker:" + p.queue.String()
}

func (p *Pool) rateWait() time.Duration {
	if p.rate.Window < p.pollInterval {
		return p.rate.Window
	}
	return p.pollInterval
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	ctx = p.logg.WithJob(ctx, job.ID, job.Kind.String(), job.AttemptsMade)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopHeartbeat := p.startHeartbeat(runCtx, cancel, job)
	started := time.Now()
	err := p.execute(runCtx, job)
	stopHeartbeat()
	p.metrics.ObserveDuration(p.queue.String(), job.Kind.String(), time.Since(started))

	if err == nil {
		if cerr := p.jobs.Complete(ctx, job); cerr != nil {
			p.logg.Error(ctx, "complete job failed", cerr)
			return
		}
		p.metrics.IncOutcome(p.queue.String(), job.Kind.String(), metrics.OutcomeCompleted)
		p.logg.Info(ctx, "job completed")
		return
	}

	outcome, ferr := p.jobs.Fail(ctx, job, err)
	if ferr != nil {
		p.logg.Error(ctx, "fail job failed", ferr)
		return
	}
	failCtx := p.logg.WithFields(ctx, map[string]any{
		"error_code": errorCode(err),
		"error_dump": pkgerrors.Dump(err),
	})
	if outcome.Retried {
		p.metrics.IncOutcome(p.queue.String(), job.Kind.String(), metrics.OutcomeRetried)
		p.logg.Warn(p.logg.WithField(failCtx, "next_run_at", outcome.NextRunAt.Format(time.RFC3339Nano)), "job failed; retry scheduled")
		return
	}
	p.metrics.IncOutcome(p.queue.String(), job.Kind.String(), metrics.OutcomeFailed)
	p.logg.Error(failCtx, "job failed permanently", err)
	if p.onTerminal != nil {
		p.onTerminal(ctx, job, err)
	}
}

// execute runs the warm check and the handler. Panics become errors.
func (p *Pool) execute(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			p.logg.Error(p.logg.WithField(ctx, "stack", string(debug.Stack())), "recovered handler panic", err)
		}
	}()

	if p.health != nil {
		if werr := p.health.EnsureWarm(ctx); werr != nil {
			if pkgerrors.As(werr) == nil {
				werr = pkgerrors.Wrap(pkgerrors.CodeDependency, werr, "datastore unavailable")
			}
			return werr
		}
	}

	return p.handler.Handle(ctx, job, p.progressFor(job))
}

func (p *Pool) progressFor(job *queue.Job) Progress {
	return func(ctx context.Context, pct int) {
		if err := p.jobs.UpdateProgress(ctx, job, pct); err != nil {
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "progress update failed")
		}
	}
}

// startHeartbeat renews the lease every third of its duration. A lost lease
// cancels the handler because another worker now owns the job.
func (p *Pool) startHeartbeat(ctx context.Context, cancel context.CancelFunc, job *queue.Job) func() {
	interval := p.leaseDuration / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.jobs.Heartbeat(ctx, job)
				if errors.Is(err, queue.ErrLeaseLost) {
					p.logg.Warn(ctx, "job lease lost; abandoning")
					cancel()
					return
				}
				if err != nil {
					p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "heartbeat failed")
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.stalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reclaim(ctx)
		}
	}
}

func (p *Pool) reclaim(ctx context.Context) {
	reclaimed, exhausted, err := p.jobs.ReclaimStalled(ctx, p.queue)
	if err != nil {
		if ctx.Err() == nil {
			p.logg.Error(ctx, "reclaim stalled jobs failed", err)
		}
		return
	}
	p.metrics.AddReclaimed(p.queue.String(), reclaimed+exhausted)
	if reclaimed+exhausted > 0 {
		p.logg.Warn(p.logg.WithFields(ctx, map[string]any{
			"reclaimed": reclaimed,
			"exhausted": exhausted,
		}), "stalled jobs reclaimed")
	}
}

func errorCode(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return "UNTYPED"
}
