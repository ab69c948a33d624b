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
	"github.com/angelmondragon/brandpulse/internal/ingest"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/db"
	"github.com/angelmondragon/brandpulse/pkg/idempotency"
	"github.com/angelmondragon/brandpulse/pkg/instance"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/metrics"
	"github.com/angelmondragon/brandpulse/pkg/pubsub"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "ingest-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "ingest-worker"

	logg = logger.New(logger.Options{
		ServiceName: "ingest-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.CommerceSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "commerce subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	jobQueue, err := queue.New(redisClient, queue.Options{Policies: queue.PoliciesFromConfig(cfg.Queue)})
	requireResource(ctx, logg, "job queue", err)

	brandService, err := brands.NewService(brands.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "brand service", err)

	ingestService, err := ingest.NewService(brandService, jobQueue, jobs.DefaultRegistry(), logg)
	requireResource(ctx, logg, "ingest service", err)

	consumer, err := ingest.NewConsumer(subscription, ingestService, manager, logg)
	requireResource(ctx, logg, "ingest consumer", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "ingest worker ready")

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error { return consumer.Run(egCtx) })
	eg.Go(func() error { return metrics.Serve(egCtx, cfg.Service.MetricsPort, prometheus.DefaultGatherer) })
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "ingest worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
