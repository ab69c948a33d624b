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
	"github.com/angelmondragon/brandpulse/internal/dailymetrics"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/internal/ledger"
	"github.com/angelmondragon/brandpulse/internal/notifications"
	"github.com/angelmondragon/brandpulse/internal/orders"
	"github.com/angelmondragon/brandpulse/internal/pipeline"
	"github.com/angelmondragon/brandpulse/internal/worker"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/db"
	"github.com/angelmondragon/brandpulse/pkg/instance"
	"github.com/angelmondragon/brandpulse/pkg/lock"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/metrics"
	"github.com/angelmondragon/brandpulse/pkg/migrate"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/redis"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	locker, err := lock.New(redisClient, cfg.Sync.LockTTL)
	requireResource(ctx, logg, "lock", err)

	platform, err := shopify.NewClient(cfg.Shopify, logg, shopify.Options{})
	requireResource(ctx, logg, "shopify client", err)

	publisher, err := notifications.NewPublisher(redisClient, cfg.Notifications)
	requireResource(ctx, logg, "notification publisher", err)

	brandService, err := brands.NewService(brands.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "brand service", err)
	orderService, err := orders.NewService(orders.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "order service", err)
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo: ledger.NewRepository(dbClient.DB()),
		Tx:   dbClient,
	})
	requireResource(ctx, logg, "ledger service", err)
	aggregator, err := dailymetrics.NewService(dailymetrics.ServiceParams{
		Repo:    dailymetrics.NewRepository(dbClient.DB()),
		Brands:  brandService,
		Refunds: ledgerService,
		Logger:  logg,
	})
	requireResource(ctx, logg, "daily metrics service", err)

	registry := jobs.DefaultRegistry()
	handlers, err := pipeline.New(pipeline.Params{
		Brands:   brandService,
		Orders:   orderService,
		Ledger:   ledgerService,
		Metrics:  aggregator,
		Queue:    jobQueue,
		Platform: platform,
		Locker:   locker,
		Notifier: publisher,
		Registry: registry,
		Sync:     cfg.Sync,
		Logger:   logg,
	})
	requireResource(ctx, logg, "pipeline handlers", err)

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Queue:    jobQueue,
		Handlers: handlers,
		Router:   worker.NewRouter(registry),
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "starting worker")

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error { return service.Run(egCtx) })
	eg.Go(func() error { return metrics.Serve(egCtx, cfg.Service.MetricsPort, prometheus.DefaultGatherer) })
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
