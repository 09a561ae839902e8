package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { mc.Close() })
	return mc
}

func TestMemorySetGetRoundTrip(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	type record struct {
		Symbol string  `json:"symbol"`
		Loss   float64 `json:"loss"`
	}
	if err := mc.Set(ctx, "k", record{Symbol: "BTC-USD", Loss: 0.02}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got record
	if err := mc.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Symbol != "BTC-USD" || got.Loss != 0.02 {
		t.Fatalf("round trip %+v", got)
	}

	if err := mc.Set(ctx, "s", "plain", time.Minute); err != nil {
		t.Fatalf("set string: %v", err)
	}
	var s string
	if err := mc.Get(ctx, "s", &s); err != nil || s != "plain" {
		t.Fatalf("string round trip %q, %v", s, err)
	}
}

func TestMemoryGetMiss(t *testing.T) {
	mc := newTestCache(t)
	var s string
	if err := mc.Get(context.Background(), "absent", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryExpiredEntryMisses(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", time.Nanosecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	var s string
	if err := mc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry miss, got %v", err)
	}
	ok, err := mc.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expired key should not exist, got %v, %v", ok, err)
	}
}

func TestMemoryEvictsLRUAtCapacity(t *testing.T) {
	mc := newTestCache(t, WithMemoryMaxSize(2))
	ctx := context.Background()

	if err := mc.Set(ctx, "a", "1", time.Minute); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := mc.Set(ctx, "b", "2", time.Minute); err != nil {
		t.Fatalf("set b: %v", err)
	}
	// Touch a so b becomes the eviction candidate.
	var s string
	if err := mc.Get(ctx, "a", &s); err != nil {
		t.Fatalf("touch a: %v", err)
	}
	if err := mc.Set(ctx, "c", "3", time.Minute); err != nil {
		t.Fatalf("set c: %v", err)
	}

	if err := mc.Get(ctx, "b", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected b evicted, got %v", err)
	}
	if err := mc.Get(ctx, "a", &s); err != nil {
		t.Fatalf("a should survive: %v", err)
	}
}

func TestMemoryTryLock(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock:x", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v, %v", ok, err)
	}
	ok, err = mc.TryLock(ctx, "lock:x", time.Minute)
	if err != nil || ok {
		t.Fatalf("held lock re-acquired: %v, %v", ok, err)
	}
	if err := mc.Unlock(ctx, "lock:x"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ok, err = mc.TryLock(ctx, "lock:x", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after unlock: %v, %v", ok, err)
	}
}

func TestMemoryIncrement(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := mc.Increment(ctx, "counter")
		if err != nil || got != want {
			t.Fatalf("increment %d: %v, %v", want, got, err)
		}
	}
}

func TestMemoryDeleteByPattern(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"prediction:BTC-USD", "prediction:ETH-USD", "report:last"} {
		if err := mc.Set(ctx, k, "v", time.Minute); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := mc.DeleteByPattern(ctx, "prediction:*"); err != nil {
		t.Fatalf("delete by pattern: %v", err)
	}

	var s string
	if err := mc.Get(ctx, "prediction:BTC-USD", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("prefixed key should be gone, got %v", err)
	}
	if err := mc.Get(ctx, "report:last", &s); err != nil {
		t.Fatalf("unrelated key should survive: %v", err)
	}
}
