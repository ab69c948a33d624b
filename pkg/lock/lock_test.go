package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	bpredis "github.com/angelmondragon/brandpulse/pkg/redis"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := bpredis.NewFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "")
	t.Cleanup(func() { _ = client.Close() })
	locker, err := New(client, time.Minute)
	require.NoError(t, err)
	return locker, srv
}

func TestAcquireIsMutuallyExclusive(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := locker.Acquire(ctx, "sync:brand-1", time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	held, err := locker.IsLocked(ctx, "sync:brand-1")
	require.NoError(t, err)
	require.True(t, held)
}

func TestLockExpiresAfterTTL(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "sync:brand-2", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(31 * time.Second)

	ok, err = locker.Acquire(ctx, "sync:brand-2", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "crashed holder's lock should self-expire")
}

func TestReleaseIsUnconditional(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "sync:brand-3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, srv.Exists("bp:lock:sync:brand-3"))

	require.NoError(t, locker.Release(ctx, "sync:brand-3"))
	held, err := locker.IsLocked(ctx, "sync:brand-3")
	require.NoError(t, err)
	require.False(t, held)
}

func TestMutexReleaseIsOwnerChecked(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	first := locker.Mutex("cron", time.Minute)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := locker.Mutex("cron", time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, second.Release(ctx))
	require.True(t, srv.Exists("bp:lock:cron"), "non-owner release must not delete")

	srv.Set("bp:lock:cron", "someone-else")
	require.NoError(t, first.Release(ctx))
	require.True(t, srv.Exists("bp:lock:cron"), "release after takeover must not delete")

	srv.Del("bp:lock:cron")
	ok, err = first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, first.Release(ctx))
	require.False(t, srv.Exists("bp:lock:cron"))
}

func TestMutexExtendKeepsHoldAlive(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	m := locker.Mutex("sync:brand-1", time.Minute)
	ok, err := m.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		srv.FastForward(45 * time.Second)
		extended, err := m.Extend(ctx)
		require.NoError(t, err)
		require.True(t, extended)
		require.Equal(t, time.Minute, srv.TTL("bp:lock:sync:brand-1"))
	}
	require.True(t, srv.Exists("bp:lock:sync:brand-1"))
}

func TestMutexExtendAfterTakeoverReportsLost(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	m := locker.Mutex("sync:brand-1", time.Minute)
	ok, err := m.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	srv.Set("bp:lock:sync:brand-1", "someone-else")
	extended, err := m.Extend(ctx)
	require.NoError(t, err)
	require.False(t, extended)
	require.Zero(t, srv.TTL("bp:lock:sync:brand-1"), "non-owner extend must not touch the key")

	require.NoError(t, m.Release(ctx))
	require.True(t, srv.Exists("bp:lock:sync:brand-1"))

	unheld := locker.Mutex("sync:brand-2", time.Minute)
	extended, err = unheld.Extend(ctx)
	require.NoError(t, err)
	require.False(t, extended)
}

func TestEmptyKeyIsValidationError(t *testing.T) {
	locker, _ := newTestLocker(t)
	_, err := locker.Acquire(context.Background(), "  ", time.Minute)
	require.Error(t, err)
}
