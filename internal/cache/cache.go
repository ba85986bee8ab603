// Package cache implements the two-tier Config Cache of spec.md §4.E: a
// bounded, short-TTL in-process L1 in front of a longer-TTL shared L2
// (Redis), with load-through on miss and explicit invalidation, ported from
// backend/app/core/gateway/config_cache.py.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Loader fetches the authoritative value on a full cache miss (L1 and L2).
type Loader func(ctx context.Context, key string) (any, error)

type entry struct {
	value   any
	expires time.Time
}

// Cache is a generic two-tier cache keyed by string, storing arbitrary
// JSON-serializable values. One Cache instance is created per logical
// config resource (resolved endpoints, macros, client records, ...), each
// with its own key namespace and its own Loader.
type Cache struct {
	namespace string
	l1TTL     time.Duration
	l2TTL     time.Duration
	maxSize   int
	loader    Loader

	redis *redis.Client

	mu  sync.Mutex
	l1  map[string]entry
	// lru is an append-only recency list; on overflow we evict from the
	// front, matching config_cache.py's simple "evict oldest on overflow"
	// policy rather than a true LRU.
	lru []string
}

func New(namespace string, l1TTL, l2TTL time.Duration, maxSize int, rdb *redis.Client, loader Loader) *Cache {
	return &Cache{
		namespace: namespace,
		l1TTL:     l1TTL,
		l2TTL:     l2TTL,
		maxSize:   maxSize,
		loader:    loader,
		redis:     rdb,
		l1:        make(map[string]entry),
	}
}

func (c *Cache) redisKey(key string) string {
	return fmt.Sprintf("dbgateway:cfg:%s:%s", c.namespace, key)
}

// Get returns the cached value for key, loading through L1 -> L2 -> Loader
// on successive misses, and backfilling the faster tiers as it goes.
func (c *Cache) Get(ctx context.Context, key string, out any) error {
	if v, ok := c.getL1(key); ok {
		return assign(out, v)
	}

	if c.redis != nil {
		raw, err := c.redis.Get(ctx, c.redisKey(key)).Result()
		if err == nil {
			var v any
			if jerr := json.Unmarshal([]byte(raw), &v); jerr == nil {
				c.setL1(key, v)
				return assign(out, v)
			}
		}
		// Redis errors (including redis.Nil) fall through to the loader —
		// the config cache must stay available even if L2 is down.
	}

	v, err := c.loader(ctx, key)
	if err != nil {
		return err
	}

	c.setL1(key, v)
	if c.redis != nil {
		if raw, jerr := json.Marshal(v); jerr == nil {
			c.redis.Set(ctx, c.redisKey(key), raw, c.l2TTL)
		}
	}
	return assign(out, v)
}

func (c *Cache) getL1(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.l1[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.l1, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) setL1(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.l1[key]; !exists {
		if len(c.l1) >= c.maxSize && len(c.lru) > 0 {
			oldest := c.lru[0]
			c.lru = c.lru[1:]
			delete(c.l1, oldest)
		}
		c.lru = append(c.lru, key)
	}
	c.l1[key] = entry{value: v, expires: time.Now().Add(c.l1TTL)}
}

// Invalidate removes key from both tiers, for use when a config change is
// signalled. Nothing in this repository calls it; entries otherwise expire
// by TTL.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.l1, key)
	c.mu.Unlock()
	if c.redis != nil {
		c.redis.Del(ctx, c.redisKey(key))
	}
}

// InvalidateAll clears L1 entirely and drops the namespace from L2 is left
// to natural TTL expiry (no KEYS/SCAN sweep — matches the original, which
// never does a bulk external-store invalidation either).
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1 = make(map[string]entry)
	c.lru = c.lru[:0]
}

func assign(out any, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-marshaling cached value: %w", err)
	}
	return json.Unmarshal(raw, out)
}
