package repository

import (
	"context"
	"time"

	"FinTrain/internal/domain/repository"
	"FinTrain/pkg/cache"
)

// CacheRunLocker implements RunLocker on top of the cache's SetNX lock.
// Backed by Redis the lock is advisory across processes; backed by a
// MemoryCache it still serializes retrains within one process.
type CacheRunLocker struct {
	cache cache.Service
}

// NewCacheRunLocker creates the cache-backed run locker.
func NewCacheRunLocker(c cache.Service) repository.RunLocker {
	return &CacheRunLocker{cache: c}
}

func (l *CacheRunLocker) Acquire(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	return l.cache.TryLock(ctx, lockKey(symbol), ttl)
}

func (l *CacheRunLocker) Release(ctx context.Context, symbol string) error {
	return l.cache.Unlock(ctx, lockKey(symbol))
}

func lockKey(symbol string) string {
	return cache.GenerateKeyWithParams("lock", "retrain", symbol)
}
