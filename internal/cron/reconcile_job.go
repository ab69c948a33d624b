package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/brandpulse/internal/dailymetrics"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
)

// BrandLister lists every brand.
type BrandLister interface {
	List(ctx context.Context) ([]models.Brand, error)
}

// ReconcileJobParams configure the daily metrics reconcile job.
type ReconcileJobParams struct {
	Brands BrandLister
	Queue  jobs.Queue
	Logger *logger.Logger
	Clock  func() time.Time
}

type reconcileJob struct {
	brands BrandLister
	queue  jobs.Queue
	logg   *logger.Logger
	now    func() time.Time
}

// NewDailyMetricsReconcileJob schedules a recomputation of today and
// yesterday for every brand, each in the brand's own timezone. It catches
// days whose aggregation job was lost or failed.
func NewDailyMetricsReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Brands == nil {
		return nil, fmt.Errorf("brand lister required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("queue required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &reconcileJob{brands: params.Brands, queue: params.Queue, logg: params.Logger, now: clock}, nil
}

func (j *reconcileJob) Name() string { return "daily-metrics-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	brandList, err := j.brands.List(ctx)
	if err != nil {
		return err
	}
	now := j.now()
	scheduled := 0
	var errs error
	for i := range brandList {
		brand := &brandList[i]
		for _, at := range []time.Time{now, now.Add(-24 * time.Hour)} {
			date := dailymetrics.BucketFor(brand, at)
			if _, err := jobs.Enqueue(ctx, j.queue, jobs.DailyMetrics{BrandID: brand.ID, Date: date}, queue.EnqueueOptions{}); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("brand %s %s: %w", brand.ID, date, err))
				continue
			}
			scheduled++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"brands": len(brandList), "scheduled": scheduled}), "daily metrics reconcile scheduled")
	return errs
}
