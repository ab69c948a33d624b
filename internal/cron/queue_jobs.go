package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/brandpulse/pkg/enums"
	"github.com/angelmondragon/brandpulse/pkg/logger"
)

// QueueMaintainer is the queue surface the maintenance jobs drive.
type QueueMaintainer interface {
	Clean(ctx context.Context, queue enums.QueueName) (int, error)
	ReclaimStalled(ctx context.Context, queue enums.QueueName) (reclaimed, exhausted int, err error)
}

type queueRetentionJob struct {
	queue  QueueMaintainer
	queues []enums.QueueName
	logg   *logger.Logger
}

// NewQueueRetentionJob trims finished jobs past their retention bounds.
func NewQueueRetentionJob(q QueueMaintainer, queues []enums.QueueName, logg *logger.Logger) (Job, error) {
	if q == nil {
		return nil, fmt.Errorf("queue required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(queues) == 0 {
		queues = enums.Queues
	}
	return &queueRetentionJob{queue: q, queues: queues, logg: logg}, nil
}

func (j *queueRetentionJob) Name() string { return "queue-retention" }

func (j *queueRetentionJob) Run(ctx context.Context) error {
	var errs error
	for _, name := range j.queues {
		removed, err := j.queue.Clean(ctx, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("clean %s: %w", name, err))
			continue
		}
		if removed > 0 {
			j.logg.Info(j.logg.WithFields(ctx, map[string]any{"queue": string(name), "removed": removed}), "finished jobs trimmed")
		}
	}
	return errs
}

type queueStalledJob struct {
	queue  QueueMaintainer
	queues []enums.QueueName
	logg   *logger.Logger
}

// NewQueueStalledJob returns expired leases to their queues. Workers reclaim
// on their own ticker; this covers queues with no live consumer.
func NewQueueStalledJob(q QueueMaintainer, queues []enums.QueueName, logg *logger.Logger) (Job, error) {
	if q == nil {
		return nil, fmt.Errorf("queue required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(queues) == 0 {
		queues = enums.Queues
	}
	return &queueStalledJob{queue: q, queues: queues, logg: logg}, nil
}

func (j *queueStalledJob) Name() string { return "queue-stalled" }

func (j *queueStalledJob) Run(ctx context.Context) error {
	var errs error
	for _, name := range j.queues {
		reclaimed, exhausted, err := j.queue.ReclaimStalled(ctx, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reclaim %s: %w", name, err))
			continue
		}
		if reclaimed > 0 || exhausted > 0 {
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"queue":     string(name),
				"reclaimed": reclaimed,
				"exhausted": exhausted,
			}), "stalled jobs reclaimed")
		}
	}
	return errs
}
