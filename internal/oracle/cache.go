package oracle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache caches prices in Redis with a TTL. Redis errors degrade to
// cache misses; the oracle falls back to the store.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed price cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func priceKey(symbol string) string { return "price:" + symbol }

func (c *RedisCache) Get(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	val, err := c.rdb.Get(ctx, priceKey(symbol)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		slog.Warn("corrupt cached price", "symbol", symbol, "val", val)
		return decimal.Zero, false
	}
	return price, true
}

func (c *RedisCache) Set(ctx context.Context, symbol string, price decimal.Decimal) {
	if err := c.rdb.Set(ctx, priceKey(symbol), price.String(), c.ttl).Err(); err != nil {
		slog.Warn("price cache set failed", "symbol", symbol, "err", err)
	}
}

// MemoryCache is an in-process TTL price cache for tests and single-node
// development.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
}

type memEntry struct {
	price   decimal.Decimal
	expires time.Time
}

// NewMemoryCache creates an in-process price cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the cache's time source. Tests only.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || c.now().After(e.expires) {
		return decimal.Zero, false
	}
	return e.price, true
}

func (c *MemoryCache) Set(_ context.Context, symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[symbol] = memEntry{price: price, expires: c.now().Add(c.ttl)}
}
