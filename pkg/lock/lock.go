package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// releaseIfOwner deletes the key only while it still holds the caller's value.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendIfOwner resets the TTL only while the key still holds the caller's value.
var extendIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// store defines the broker operations used by Locker.
type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
	Cmdable() redis.Cmdable
}

// Locker hands out advisory, TTL-bounded locks stored in Redis.
type Locker struct {
	store      store
	defaultTTL time.Duration
}

// New constructs a Locker. A non-positive ttl falls back to five minutes.
func New(client store, ttl time.Duration) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{store: client, defaultTTL: ttl}, nil
}

// Acquire sets the lock iff it is absent. A false result means another holder
// owns it and the caller should skip the work.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_, ok, err := l.acquire(ctx, key, ttl)
	return ok, err
}

// Release deletes the lock regardless of which holder set it.
func (l *Locker) Release(ctx context.Context, key string) error {
	name, err := l.keyFor(key)
	if err != nil {
		return err
	}
	if err := l.store.Del(ctx, name); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

// IsLocked reports whether the lock is currently held.
func (l *Locker) IsLocked(ctx context.Context, key string) (bool, error) {
	name, err := l.keyFor(key)
	if err != nil {
		return false, err
	}
	held, err := l.store.Exists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	return held, nil
}

// Mutex returns a handle bound to key whose Release only removes its own hold.
func (l *Locker) Mutex(key string, ttl time.Duration) *Mutex {
	return &Mutex{locker: l, key: key, ttl: ttl}
}

func (l *Locker) acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	name, err := l.keyFor(key)
	if err != nil {
		return "", false, err
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, name, owner, ttl)
	if err != nil {
		return "", false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return owner, true, nil
}

func (l *Locker) keyFor(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "lock key is required")
	}
	return l.store.LockKey(key), nil
}

// Mutex is a key-bound lock handle that remembers its owner token.
type Mutex struct {
	locker *Locker
	key    string
	ttl    time.Duration
	owner  string
}

// Acquire tries to own the lock for the configured TTL.
func (m *Mutex) Acquire(ctx context.Context) (bool, error) {
	owner, ok, err := m.locker.acquire(ctx, m.key, m.ttl)
	if err != nil || !ok {
		return false, err
	}
	m.owner = owner
	return true, nil
}

// Release frees the lock only if the owner value still matches.
func (m *Mutex) Release(ctx context.Context) error {
	if m.owner == "" {
		return nil
	}
	name, err := m.locker.keyFor(m.key)
	if err != nil {
		return err
	}
	cmd := m.locker.store.Cmdable()
	if cmd == nil {
		return errors.New("redis client not initialized")
	}
	if err := releaseIfOwner.Run(ctx, cmd, []string{name}, m.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	m.owner = ""
	return nil
}

// Extend resets the TTL of a held lock. False means the hold expired or was
// taken over and the caller no longer owns the key.
func (m *Mutex) Extend(ctx context.Context) (bool, error) {
	if m.owner == "" {
		return false, nil
	}
	name, err := m.locker.keyFor(m.key)
	if err != nil {
		return false, err
	}
	cmd := m.locker.store.Cmdable()
	if cmd == nil {
		return false, errors.New("redis client not initialized")
	}
	ttl := m.ttl
	if ttl <= 0 {
		ttl = m.locker.defaultTTL
	}
	extended, err := extendIfOwner.Run(ctx, cmd, []string{name}, m.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	if extended == 0 {
		m.owner = ""
		return false, nil
	}
	return true, nil
}

// Key returns the unnamespaced lock key.
func (m *Mutex) Key() string {
	return m.key
}
