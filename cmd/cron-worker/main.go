package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/brandpulse/internal/brands"
	"github.com/angelmondragon/brandpulse/internal/cron"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/db"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	"github.com/angelmondragon/brandpulse/pkg/instance"
	"github.com/angelmondragon/brandpulse/pkg/lock"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/metrics"
	"github.com/angelmondragon/brandpulse/pkg/migrate"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	jobQueue, err := queue.New(redisClient, queue.Options{Policies: queue.PoliciesFromConfig(cfg.Queue)})
	requireResource(ctx, logg, "job queue", err)

	locker, err := lock.New(redisClient, cfg.Cron.LockTTL)
	requireResource(ctx, logg, "cron lock", err)

	brandService, err := brands.NewService(brands.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "brand service", err)

	retention, err := cron.NewQueueRetentionJob(jobQueue, enums.Queues, logg)
	requireResource(ctx, logg, "queue retention job", err)
	stalled, err := cron.NewQueueStalledJob(jobQueue, enums.Queues, logg)
	requireResource(ctx, logg, "queue stalled job", err)
	reconcile, err := cron.NewDailyMetricsReconcileJob(cron.ReconcileJobParams{
		Brands: brandService,
		Queue:  jobQueue,
		Logger: logg,
	})
	requireResource(ctx, logg, "daily metrics reconcile job", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(stalled, retention, reconcile),
		Lock:     cron.NewLock(locker, cfg.Cron.LockTTL),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "starting cron worker")

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error { return service.Run(egCtx) })
	eg.Go(func() error { return metrics.Serve(egCtx, cfg.Service.MetricsPort, prometheus.DefaultGatherer) })
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
