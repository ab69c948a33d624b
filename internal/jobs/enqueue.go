package jobs

import (
	"context"
	"encoding/json"

	"github.com/angelmondragon/brandpulse/pkg/enums"
	"github.com/angelmondragon/brandpulse/pkg/queue"
)

// Queue is the enqueue half of the job queue.
type Queue interface {
	Enqueue(ctx context.Context, name enums.QueueName, kind enums.JobKind, payload json.RawMessage, opts queue.EnqueueOptions) (queue.JobRef, error)
}

// Enqueue routes p to its queue under its idempotency key unless opts sets one.
func Enqueue(ctx context.Context, q Queue, p Payload, opts queue.EnqueueOptions) (queue.JobRef, error) {
	kind, data, err := Encode(p)
	if err != nil {
		return queue.JobRef{}, err
	}
	name, err := enums.QueueFor(kind)
	if err != nil {
		return queue.JobRef{}, err
	}
	if opts.IdempotencyKey == "" {
		opts.IdempotencyKey = p.IdempotencyKey()
	}
	return q.Enqueue(ctx, name, kind, data, opts)
}
