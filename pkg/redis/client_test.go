package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "commerce-events", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "commerce-events", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "commerce-events", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestFixedWindowReleaseReturnsUnspentToken(t *testing.T) {
	srv := miniredis.RunT(t)
	client := NewFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "")
	defer client.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := client.FixedWindowAllow(ctx, "worker:daily-metrics", 2, time.Hour); err != nil {
			t.Fatalf("allow failed: %v", err)
		}
	}
	if err := client.FixedWindowRelease(ctx, "worker:daily-metrics"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	allowed, count, err := client.FixedWindowAllow(ctx, "worker:daily-metrics", 2, time.Hour)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("expected released token to be reusable, allowed=%v count=%d", allowed, count)
	}
	if ttl := srv.TTL(client.RateLimitKey("worker:daily-metrics")); ttl <= 0 {
		t.Fatalf("window ttl lost after release: %v", ttl)
	}
}

func TestFixedWindowReleaseIgnoresExpiredWindow(t *testing.T) {
	srv := miniredis.RunT(t)
	client := NewFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "")
	defer client.Close()

	if err := client.FixedWindowRelease(context.Background(), "worker:daily-metrics"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if srv.Exists(client.RateLimitKey("worker:daily-metrics")) {
		t.Fatalf("release must not create a counter")
	}
}

func TestExistsAndDel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	if err := client.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	ok, err := client.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected key to exist ok=%v err=%v", ok, err)
	}
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if ok, _ := client.Exists(ctx, "k"); ok {
		t.Fatalf("expected key removed")
	}
	if _, err := client.Get(ctx, "k"); err != Nil {
		t.Fatalf("expected Nil after delete, got %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
	if _, err := client.Subscribe(context.Background(), "brand-notification"); err == nil {
		t.Fatalf("expected subscribe error from uninitialized client")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "bp:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "bp:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CounterKey("hits"); got != "bp:counter:hits" {
		t.Fatalf("unexpected counter key %s", got)
	}
	if got := client.LockKey("sync:brand-1"); got != "bp:lock:sync:brand-1" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.QueueKey(""); got != "bp:queue" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}

	custom := NewFromClient(nil, "staging")
	if got := custom.QueueKey("daily-metrics"); got != "staging:queue:daily-metrics" {
		t.Fatalf("unexpected namespaced key %s", got)
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := NewFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, "brand-notification")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	receivers, err := client.Publish(ctx, "brand-notification", `{"type":"ping"}`)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if receivers != 1 {
		t.Fatalf("expected one receiver, got %d", receivers)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Channel != "brand-notification" || msg.Payload != `{"type":"ping"}` {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
	published   []string
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	m.published = append(m.published, channel)
	return redis.NewIntResult(0, nil)
}
