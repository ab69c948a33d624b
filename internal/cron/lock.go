package cron

import (
	"context"
	"time"

	"github.com/angelmondragon/brandpulse/pkg/lock"
)

// LockKey is the lock shared by every cron worker.
const LockKey = "cron:maintenance"

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewLock returns the owner-checked cron lock. A non-positive ttl uses the
// locker default.
func NewLock(locker *lock.Locker, ttl time.Duration) Lock {
	return locker.Mutex(LockKey, ttl)
}
