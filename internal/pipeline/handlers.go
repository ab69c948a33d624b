// Package pipeline holds the job handlers that turn commerce events into
// ledger entries, daily aggregates and brand notifications.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/internal/dailymetrics"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/internal/ledger"
	"github.com/angelmondragon/brandpulse/internal/orders"
	"github.com/angelmondragon/brandpulse/internal/worker"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	"github.com/angelmondragon/brandpulse/pkg/lock"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// BrandLookup resolves brands by id.
type BrandLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Brand, error)
}

// Platform is the commerce platform read API.
type Platform interface {
	FetchOrder(ctx context.Context, shop shopify.Shop, orderID string) (*shopify.Order, error)
	ListOrders(ctx context.Context, shop shopify.Shop, params shopify.ListParams) (*shopify.Page, error)
}

// Locker hands out owner-checked lock handles.
type Locker interface {
	Mutex(key string, ttl time.Duration) *lock.Mutex
}

// Notifier publishes brand notifications.
type Notifier interface {
	PublishBrand(ctx context.Context, brandID uuid.UUID, kind enums.NotificationType, payload any) error
}

// Params wire the pipeline handlers.
type Params struct {
	Brands   BrandLookup
	Orders   orders.Service
	Ledger   ledger.Service
	Metrics  dailymetrics.Service
	Queue    jobs.Queue
	Platform Platform
	Locker   Locker
	Notifier Notifier
	Registry *jobs.Registry
	Sync     config.SyncConfig
	Logger   *logger.Logger
}

// Handlers implements one handler per job kind.
type Handlers struct {
	brands   BrandLookup
	orders   orders.Service
	ledger   ledger.Service
	metrics  dailymetrics.Service
	queue    jobs.Queue
	platform Platform
	locker   Locker
	notifier Notifier
	registry *jobs.Registry
	sync     config.SyncConfig
	logg     *logger.Logger
}

const (
	defaultChunkSize = 100
	defaultPageSize  = 250
	defaultLockTTL   = 30 * time.Minute
)

// New validates params and applies sync defaults.
func New(p Params) (*Handlers, error) {
	switch {
	case p.Brands == nil:
		return nil, fmt.Errorf("brand lookup required")
	case p.Orders == nil:
		return nil, fmt.Errorf("order service required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case p.Metrics == nil:
		return nil, fmt.Errorf("daily metrics service required")
	case p.Queue == nil:
		return nil, fmt.Errorf("job queue required")
	case p.Platform == nil:
		return nil, fmt.Errorf("platform client required")
	case p.Locker == nil:
		return nil, fmt.Errorf("locker required")
	case p.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	}
	if p.Registry == nil {
		p.Registry = jobs.DefaultRegistry()
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Sync.ChunkSize <= 0 {
		p.Sync.ChunkSize = defaultChunkSize
	}
	if p.Sync.PageSize <= 0 {
		p.Sync.PageSize = defaultPageSize
	}
	if p.Sync.LockTTL <= 0 {
		p.Sync.LockTTL = defaultLockTTL
	}
	return &Handlers{
		brands:   p.Brands,
		orders:   p.Orders,
		ledger:   p.Ledger,
		metrics:  p.Metrics,
		queue:    p.Queue,
		platform: p.Platform,
		locker:   p.Locker,
		notifier: p.Notifier,
		registry: p.Registry,
		sync:     p.Sync,
		logg:     p.Logger,
	}, nil
}

// Register binds every handler for the kinds routed to the given queues.
// With no queues every kind is registered.
func (h *Handlers) Register(router *worker.Router, queues ...enums.QueueName) {
	routes := map[enums.JobKind]worker.PayloadHandler{
		enums.JobKindOrderCreated:   h.typed(h.handleOrderCreated),
		enums.JobKindRefundCreated:  h.typed(h.handleRefundCreated),
		enums.JobKindHistoricalSync: h.typed(h.handleHistoricalSync),
		enums.JobKindDailyMetrics:   h.typed(h.handleDailyMetrics),
	}
	for kind, fn := range routes {
		name, err := enums.QueueFor(kind)
		if err != nil || !contains(queues, name) {
			continue
		}
		router.Handle(kind, fn)
	}
}

func contains(queues []enums.QueueName, name enums.QueueName) bool {
	if len(queues) == 0 {
		return true
	}
	for _, q := range queues {
		if q == name {
			return true
		}
	}
	return false
}

func (h *Handlers) typed(fn func(ctx context.Context, payload jobs.Payload, progress worker.Progress) error) worker.PayloadHandler {
	return func(ctx context.Context, payload jobs.Payload, progress worker.Progress) error {
		if progress == nil {
			progress = func(context.Context, int) {}
		}
		return fn(ctx, payload, progress)
	}
}

// scheduleAggregation enqueues a delayed recomputation; repeated calls for
// the same brand-day coalesce while the job is pending.
func (h *Handlers) scheduleAggregation(ctx context.Context, brandID uuid.UUID, date string) error {
	ref, err := jobs.Enqueue(ctx, h.queue, jobs.DailyMetrics{BrandID: brandID, Date: date}, queue.EnqueueOptions{})
	if err != nil {
		return fmt.Errorf("schedule daily metrics %s: %w", date, err)
	}
	h.logg.Debug(h.logg.WithFields(ctx, map[string]any{
		"metric_date": date,
		"metrics_job": ref.ID,
		"coalesced":   ref.Coalesced,
	}), "daily metrics scheduled")
	return nil
}

// notify is best effort; a failed publish never fails the job.
func (h *Handlers) notify(ctx context.Context, brandID uuid.UUID, kind enums.NotificationType, payload any) {
	if err := h.notifier.PublishBrand(ctx, brandID, kind, payload); err != nil {
		h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
			"notification": string(kind),
			"error":        err.Error(),
		}), "brand notification not published")
	}
}

func unexpectedPayload(want string, got jobs.Payload) error {
	return fmt.Errorf("expected %s payload, got %T", want, got)
}
