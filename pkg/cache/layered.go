package cache

import (
	"context"
	"io"
	"time"
)

// LayeredCache implements a two-level cache: an in-process L1 in front of a
// shared backing store, usually Redis. Reads that hit the backing store are
// written back to L1 for a bounded TTL so a hot key stops round-tripping
// without ever serving stale data for long.
type LayeredCache struct {
	memCache     *MemoryCache
	backing      Service
	writeBackTTL time.Duration
}

// NewLayeredCache creates a layered cache over the given backing store.
func NewLayeredCache(backing Service, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		WriteBackTTL:  time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		memCache:     NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		backing:      backing,
		writeBackTTL: cfg.WriteBackTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	// Write-through: backing store first, then memory
	if err := lc.backing.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, value, expiration)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	// L1: Try memory first
	if err := lc.memCache.Get(ctx, key, dest); err == nil {
		return nil
	}

	// L2: Try the backing store
	if err := lc.backing.Get(ctx, key, dest); err != nil {
		return err
	}

	// Keep the resolved value in L1 briefly. Only string payloads are
	// written back; dest is a pointer and storing it would alias the
	// caller's variable.
	if s, ok := dest.(*string); ok {
		_ = lc.memCache.Set(ctx, key, *s, lc.writeBackTTL)
	}
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.backing.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.backing.Exists(ctx, keys...)
}

func (lc *LayeredCache) Increment(ctx context.Context, key string) (int64, error) {
	return lc.backing.Increment(ctx, key)
}

func (lc *LayeredCache) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return lc.backing.Expire(ctx, key, expiration)
}

// TryLock and Unlock bypass L1: locks only mean anything in the shared store.
func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.backing.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.backing.Unlock(ctx, key)
}

// Close closes both cache layers. Callers sharing the backing store's
// connection pool should close that pool themselves instead.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	if c, ok := lc.backing.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
