package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/brandpulse/internal/pipeline"
	"github.com/angelmondragon/brandpulse/internal/worker"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/db"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/metrics"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	"github.com/angelmondragon/brandpulse/pkg/redis"
)

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Queue    *queue.Client
	Handlers *pipeline.Handlers
	Router   *worker.Router
	Metrics  *metrics.JobMetrics
}

type Service struct {
	logg  *logger.Logger
	group *worker.Group
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if params.Handlers == nil || params.Router == nil {
		return nil, errors.New("pipeline handlers are required")
	}

	params.Handlers.Register(params.Router, enums.Queues...)

	group := worker.NewGroup()
	for _, def := range poolDefs(params.Config.Worker) {
		pool, err := worker.NewPool(worker.PoolParams{
			Queue:           def.queue,
			Jobs:            params.Queue,
			Handler:         params.Router.AsHandler(),
			Logger:          params.Logger,
			Health:          params.DB,
			Limiter:         params.Redis,
			RateLimit:       def.rate,
			Metrics:         params.Metrics,
			Concurrency:     def.concurrency,
			PollInterval:    params.Config.Worker.PollInterval,
			StalledInterval: params.Config.Worker.StalledInterval,
			ShutdownTimeout: params.Config.Worker.ShutdownTimeout,
			OnTerminal:      params.Handlers.OnTerminalFailure,
		})
		if err != nil {
			return nil, err
		}
		group.Add(pool)
	}

	return &Service{logg: params.Logger, group: group}, nil
}

type poolDef struct {
	queue       enums.QueueName
	concurrency int
	rate        worker.RateLimit
}

func poolDefs(cfg config.WorkerConfig) []poolDef {
	return []poolDef{
		{
			queue:       enums.QueueCommerceEvents,
			concurrency: cfg.CommerceConcurrency,
			rate:        worker.RateLimit{Limit: int64(cfg.RateLimit), Window: cfg.RateWindow},
		},
		{
			queue:       enums.QueueDailyMetrics,
			concurrency: cfg.MetricsConcurrency,
			rate:        worker.RateLimit{Limit: int64(cfg.RateLimit), Window: cfg.RateWindow},
		},
		{
			queue:       enums.QueueHistoricalSync,
			concurrency: cfg.SyncConcurrency,
			rate:        worker.RateLimit{Limit: int64(cfg.SyncRateLimit), Window: cfg.RateWindow},
		},
	}
}

// Run consumes every queue until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(ctx, "worker pools starting")
	return s.group.Run(ctx)
}
