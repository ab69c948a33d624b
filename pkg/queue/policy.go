package queue

import (
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/enums"
)

// PoliciesFromConfig builds the policy for every known queue.
// Commerce and sync retries back off exponentially; aggregation retries are fixed.
func PoliciesFromConfig(cfg config.QueueConfig) map[enums.QueueName]Policy {
	completed := Retention{Age: cfg.CompletedMaxAge, Count: cfg.CompletedMaxCount}
	failed := Retention{Age: cfg.FailedMaxAge, Count: cfg.FailedMaxCount}

	return map[enums.QueueName]Policy{
		enums.QueueCommerceEvents: {
			Attempts:         cfg.CommerceAttempts,
			Backoff:          Backoff{Type: enums.BackoffExponential, Delay: cfg.CommerceBackoff},
			Lease:            cfg.CommerceLease,
			RemoveOnComplete: completed,
			RemoveOnFail:     failed,
		},
		enums.QueueDailyMetrics: {
			Attempts:         cfg.MetricsAttempts,
			Backoff:          Backoff{Type: enums.BackoffFixed, Delay: cfg.MetricsBackoff},
			Lease:            cfg.MetricsLease,
			DefaultDelay:     cfg.MetricsDelay,
			RemoveOnComplete: completed,
			RemoveOnFail:     failed,
		},
		enums.QueueHistoricalSync: {
			Attempts:         cfg.SyncAttempts,
			Backoff:          Backoff{Type: enums.BackoffExponential, Delay: cfg.SyncBackoff},
			Lease:            cfg.SyncLease,
			RemoveOnComplete: completed,
			RemoveOnFail:     failed,
		},
	}
}
