package oracle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores signal points in Redis so multiple service
// replicas share one upstream fetch budget.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache creates a Redis-backed signal cache.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Point, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, err
	}

	var p Point
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Point{}, false, err
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, p Point, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// MemoryCache is a process-local signal cache for tests and
// single-replica deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	point     Point
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory signal cache.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (Point, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Point{}, false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return Point{}, false, nil
	}
	return e.point, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, p Point, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{point: p, expiresAt: c.now().Add(ttl)}
	return nil
}
