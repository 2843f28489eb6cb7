// Package marketdata caches quote lookups in front of the broker so the
// monitor tick and the executor's price estimate do not spend the call
// budget twice on the same symbol within a TTL.
package marketdata

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores recent quote prices keyed by symbol.
type Cache interface {
	Get(ctx context.Context, symbol string) (float64, bool)
	Set(ctx context.Context, symbol string, price float64, ttl time.Duration)
}

type memoryEntry struct {
	price float64
	exp   time.Time
}

type memoryCache struct {
	mu sync.Mutex
	m  map[string]memoryEntry
}

// NewMemory returns an in-process TTL cache.
func NewMemory() Cache {
	return &memoryCache{m: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(_ context.Context, symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[symbol]
	if !ok || time.Now().After(e.exp) {
		return 0, false
	}
	return e.price, true
}

func (c *memoryCache) Set(_ context.Context, symbol string, price float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[symbol] = memoryEntry{price: price, exp: time.Now().Add(ttl)}
}

type redisCache struct {
	r      *redis.Client
	prefix string
}

// NewRedis returns a cache backed by a Redis client.
func NewRedis(client *redis.Client) Cache {
	return &redisCache{r: client, prefix: "quote:"}
}

func (c *redisCache) Get(ctx context.Context, symbol string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	v, err := c.r.Get(ctx, c.prefix+symbol).Result()
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (c *redisCache) Set(ctx context.Context, symbol string, price float64, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_ = c.r.Set(ctx, c.prefix+symbol, strconv.FormatFloat(price, 'f', -1, 64), ttl).Err()
}

// NewAuto returns a Redis cache when an address is configured, otherwise the
// in-process cache.
func NewAuto(redisAddr string) Cache {
	if redisAddr != "" {
		return NewRedis(redis.NewClient(&redis.Options{Addr: redisAddr}))
	}
	return NewMemory()
}
