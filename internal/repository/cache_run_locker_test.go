package repository

import (
	"context"
	"testing"
	"time"

	"FinTrain/pkg/cache"
)

func TestCacheRunLockerPerInstrument(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { mc.Close() })
	locker := NewCacheRunLocker(mc)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "BTC-USD", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: %v, %v", ok, err)
	}
	ok, err = locker.Acquire(ctx, "BTC-USD", time.Minute)
	if err != nil || ok {
		t.Fatalf("held lock re-acquired: %v, %v", ok, err)
	}

	// Locks are scoped per instrument.
	ok, err = locker.Acquire(ctx, "ETH-USD", time.Minute)
	if err != nil || !ok {
		t.Fatalf("sibling instrument blocked: %v, %v", ok, err)
	}

	if err := locker.Release(ctx, "BTC-USD"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = locker.Acquire(ctx, "BTC-USD", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: %v, %v", ok, err)
	}
}

func TestCacheRunLockerKeyIsolation(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { mc.Close() })
	locker := NewCacheRunLocker(mc)
	ctx := context.Background()

	if ok, err := locker.Acquire(ctx, "BTC-USD", time.Minute); err != nil || !ok {
		t.Fatalf("acquire: %v, %v", ok, err)
	}
	// The lock key lives in its own namespace; plain cache keys for the
	// same symbol do not collide with it.
	if err := mc.Set(ctx, "BTC-USD", "unrelated", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, err := locker.Acquire(ctx, "BTC-USD", time.Minute); err != nil || ok {
		t.Fatalf("lock lost to unrelated key: %v, %v", ok, err)
	}
}
