package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/brandpulse/api/routes"
	"github.com/angelmondragon/brandpulse/internal/brands"
	"github.com/angelmondragon/brandpulse/internal/gateway"
	"github.com/angelmondragon/brandpulse/internal/ingest"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/internal/notifications"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/db"
	"github.com/angelmondragon/brandpulse/pkg/idempotency"
	"github.com/angelmondragon/brandpulse/pkg/instance"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/metrics"
	"github.com/angelmondragon/brandpulse/pkg/migrate"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	brandService, err := brands.NewService(brands.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "brand service", err)

	ingestService, err := ingest.NewService(brandService, jobQueue, jobs.DefaultRegistry(), logg)
	requireResource(ctx, logg, "ingest service", err)

	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	requireResource(ctx, logg, "webhook guard", err)

	hub := gateway.NewHub(logg)
	bridge, err := notifications.NewBridge(notifications.BridgeParams{
		Subscriber: redisClient,
		Rooms:      hub,
		Config:     cfg.Notifications,
		Logger:     logg,
		Metrics:    metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "notification bridge", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:  cfg,
			Logger:  logg,
			DB:      dbClient,
			Redis:   redisClient,
			Ingest:  ingestService,
			Guard:   guard,
			Gateway: gateway.NewHandler(hub, cfg.Gateway, logg),
			Metrics: metrics.Handler(prometheus.DefaultGatherer),
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(runCtx, "starting api server")

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error { return hub.Run(egCtx) })
	eg.Go(func() error { return bridge.Run(egCtx) })
	eg.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(egCtx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "api server shut down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
