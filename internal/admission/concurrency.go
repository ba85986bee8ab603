package admission

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dbgateway/dbgateway/internal/gwerror"
)

// concurrencySlotTTL bounds how long a leaked slot (crashed process before
// Release) survives, per spec.md §4.G.3.
const concurrencySlotTTL = 5 * time.Minute

// ConcurrencyLimiter enforces per-client concurrency slots (spec.md §4.G.3):
// atomically increment a counter keyed by client_key with a short TTL,
// denying and decrementing back out if the increment exceeds the limit.
// Backed by Redis when available, falling back to an in-process map (with
// the documented cross-process caveat) on Redis errors.
type ConcurrencyLimiter struct {
	redis *redis.Client

	mu     sync.Mutex
	local  map[string]int
}

func NewConcurrencyLimiter(rdb *redis.Client) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{redis: rdb, local: make(map[string]int)}
}

func concurrencyKey(clientKey string) string {
	return "dbgateway:conc:" + clientKey
}

// Acquire increments the slot counter for clientKey and denies
// (KindConcurrencyLimited) if it now exceeds limit. Always pair with a
// deferred Release on every exit path, per spec.md's "every accepted
// request must release the slot on all exit paths".
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, clientKey string, limit int) error {
	if limit <= 0 {
		return nil
	}

	if c.redis != nil {
		key := concurrencyKey(clientKey)
		count, err := c.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				c.redis.Expire(ctx, key, concurrencySlotTTL)
			}
			if int(count) > limit {
				c.redis.Decr(ctx, key)
				return gwerror.ConcurrencyLimited("concurrency limit exceeded for %q", clientKey)
			}
			return nil
		}
		// fail open on Redis error, falling through to the in-memory path
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[clientKey]++
	if c.local[clientKey] > limit {
		c.local[clientKey]--
		return gwerror.ConcurrencyLimited("concurrency limit exceeded for %q", clientKey)
	}
	return nil
}

// Release decrements the slot counter for clientKey. Never returns an error
// — a release failure must not fail the request it's cleaning up after.
func (c *ConcurrencyLimiter) Release(ctx context.Context, clientKey string) {
	if c.redis != nil {
		if _, err := c.redis.Decr(ctx, concurrencyKey(clientKey)).Result(); err == nil {
			return
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local[clientKey] > 0 {
		c.local[clientKey]--
	}
}
