package policy

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowCounter is the atomic check-and-increment backing the sliding
// rate-limit rule. Incr adds one observation for key and returns the count
// within the current window, including the one just added; IncrBy adds a
// weighted observation for signals that should consume more budget than a
// single request. Implementations must not expose a read-then-write race.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	IncrBy(ctx context.Context, key string, n int64, window time.Duration) (int64, error)
}

// RedisWindowCounter counts per-key requests in redis, so limits hold
// across replicas. The INCR+EXPIRE pair runs in a pipeline; the window is
// anchored at the first request of the period.
type RedisWindowCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisWindowCounter(client *redis.Client) *RedisWindowCounter {
	return &RedisWindowCounter{client: client, prefix: "ratelimit"}
}

func (c *RedisWindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.IncrBy(ctx, key, 1, window)
}

func (c *RedisWindowCounter) IncrBy(ctx context.Context, key string, n int64, window time.Duration) (int64, error) {
	fullKey := c.prefix + ":" + key

	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, fullKey, n)
	pipe.ExpireNX(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryWindowCounter is the in-process fallback used when redis is not
// configured. Suitable for single-instance deployments.
type MemoryWindowCounter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

type windowEntry struct {
	count   int64
	started time.Time
}

func NewMemoryWindowCounter() *MemoryWindowCounter {
	return &MemoryWindowCounter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

func (c *MemoryWindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.IncrBy(ctx, key, 1, window)
}

func (c *MemoryWindowCounter) IncrBy(_ context.Context, key string, n int64, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.started) >= window {
		e = &windowEntry{started: now}
		c.entries[key] = e
	}
	e.count += n

	// Opportunistic eviction keeps the map bounded without a janitor.
	if len(c.entries) > 100_000 {
		for k, v := range c.entries {
			if now.Sub(v.started) >= window {
				delete(c.entries, k)
			}
		}
	}
	return e.count, nil
}
