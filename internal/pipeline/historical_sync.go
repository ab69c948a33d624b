package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/internal/brands"
	"github.com/angelmondragon/brandpulse/internal/dailymetrics"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/internal/ledger"
	"github.com/angelmondragon/brandpulse/internal/orders"
	"github.com/angelmondragon/brandpulse/internal/worker"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/lock"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

// SyncLockKey serializes backfills for one brand.
func SyncLockKey(brandID uuid.UUID) string {
	return "sync:" + brandID.String()
}

// SyncSummary is published when a backfill finishes.
type SyncSummary struct {
	Pages   int      `json:"pages"`
	Orders  int      `json:"orders"`
	Failed  int      `json:"failed"`
	Refunds int      `json:"refunds"`
	Dates   []string `json:"dates"`
}

// SyncProgress is published after each page.
type SyncProgress struct {
	Pages  int `json:"pages"`
	Orders int `json:"orders"`
}

func (h *Handlers) handleHistoricalSync(ctx context.Context, payload jobs.Payload, progress worker.Progress) error {
	p, ok := payload.(jobs.HistoricalSync)
	if !ok {
		return unexpectedPayload("historical sync", payload)
	}
	ctx = h.logg.WithBrandID(ctx, p.BrandID.String())

	brand, err := h.brands.Get(ctx, p.BrandID)
	if err != nil {
		return err
	}

	mutex := h.locker.Mutex(SyncLockKey(p.BrandID), h.sync.LockTTL)
	acquired, err := mutex.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		h.logg.Warn(ctx, "historical sync already running for brand; skipping")
		return nil
	}
	defer func() {
		if err := mutex.Release(context.WithoutCancel(ctx)); err != nil {
			h.logg.Error(ctx, "release sync lock", err)
		}
	}()

	h.notify(ctx, p.BrandID, enums.NotificationHistoricalSyncStarted, nil)

	summary, err := h.backfill(ctx, brand, p, mutex, progress)
	if err != nil {
		return err
	}

	for _, date := range summary.Dates {
		if err := h.scheduleAggregation(ctx, p.BrandID, date); err != nil {
			return err
		}
	}
	progress(ctx, 100)

	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"pages":  summary.Pages,
		"orders": summary.Orders,
		"failed": summary.Failed,
		"dates":  len(summary.Dates),
	}), "historical sync complete")
	h.notify(ctx, p.BrandID, enums.NotificationHistoricalSyncComplete, summary)
	return nil
}

func (h *Handlers) backfill(ctx context.Context, brand *models.Brand, p jobs.HistoricalSync, mutex *lock.Mutex, progress worker.Progress) (SyncSummary, error) {
	var summary SyncSummary
	dates := make(map[string]struct{})
	shop := brands.Shop(brand)
	params := shopify.ListParams{
		CreatedAtMin: p.CreatedAtMin,
		CreatedAtMax: p.CreatedAtMax,
		Limit:        h.sync.PageSize,
	}

	for {
		page, err := h.platform.ListOrders(ctx, shop, params)
		if err != nil {
			return summary, fmt.Errorf("list orders page %d: %w", summary.Pages+1, err)
		}
		summary.Pages++

		for start := 0; start < len(page.Orders); start += h.sync.ChunkSize {
			end := min(start+h.sync.ChunkSize, len(page.Orders))
			stored, refunds, err := h.processChunk(ctx, brand, page.Orders[start:end], dates)
			summary.Orders += stored
			summary.Failed += end - start - stored
			summary.Refunds += refunds
			if err != nil {
				return summary, err
			}
		}

		// A backfill can outlive one lock TTL; renew the hold every page.
		held, err := mutex.Extend(ctx)
		if err != nil {
			return summary, err
		}
		if !held {
			return summary, pkgerrors.New(pkgerrors.CodeConflict, "historical sync lock lost")
		}

		// The page count is unknown up front, so progress approaches 99.
		progress(ctx, min(99, 100-100/(summary.Pages+1)))
		h.notify(ctx, p.BrandID, enums.NotificationHistoricalSyncProgress, SyncProgress{Pages: summary.Pages, Orders: summary.Orders})

		if page.NextPageInfo == "" {
			break
		}
		params = shopify.ListParams{PageInfo: page.NextPageInfo, Limit: h.sync.PageSize}
	}

	summary.Dates = make([]string, 0, len(dates))
	for date := range dates {
		summary.Dates = append(summary.Dates, date)
	}
	sort.Strings(summary.Dates)
	return summary, nil
}

// processChunk stores one chunk. Individual bad records are logged and
// skipped; a chunk where nothing could be written fails the job so it retries.
func (h *Handlers) processChunk(ctx context.Context, brand *models.Brand, chunk []shopify.Order, dates map[string]struct{}) (int, int, error) {
	records := make([]models.Order, 0, len(chunk))
	for _, o := range chunk {
		records = append(records, orders.FromShopify(brand.ID, o))
	}

	result := h.orders.BulkUpsert(ctx, records)
	failed := make(map[string]struct{}, len(result.Failures))
	for _, f := range result.Failures {
		failed[f.ExternalID] = struct{}{}
		h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
			"order_id": f.ExternalID,
			"error":    f.Err.Error(),
		}), "skipping order during historical sync")
	}
	if result.Upserted == 0 && len(result.Failures) > 0 {
		return 0, 0, result.Err()
	}

	seeds := make([]ledger.Seed, 0, len(records))
	for _, r := range records {
		if _, bad := failed[r.ExternalID]; bad {
			continue
		}
		seeds = append(seeds, ledger.Seed{BrandID: brand.ID, OrderID: r.ExternalID, OrderCreatedAt: r.OrderedAt})
		dates[dailymetrics.BucketFor(brand, r.OrderedAt)] = struct{}{}
	}
	if _, err := h.ledger.BulkEnsureExists(ctx, seeds); err != nil {
		return result.Upserted, 0, err
	}

	refunds := 0
	for _, o := range chunk {
		if _, bad := failed[o.ExternalID()]; bad {
			continue
		}
		for _, refund := range o.Refunds {
			_, applied, err := h.ledger.ApplyRefundOnce(ctx, brand.ID, o.ExternalID(), strconv.FormatInt(refund.ID, 10), ledger.ShopifyRefundAmount(refund))
			if err != nil {
				return result.Upserted, refunds, err
			}
			if applied {
				refunds++
			}
		}
	}
	return result.Upserted, refunds, nil
}
