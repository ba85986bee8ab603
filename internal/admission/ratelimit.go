package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dbgateway/dbgateway/internal/gwerror"
)

const rateLimitWindow = 60 * time.Second

// RateLimiter implements the 60s sliding window of spec.md §4.G.4: a
// Redis sorted set per composite key, scored by timestamp, with
// membership counted in (now-60, now] and expired members trimmed on each
// evaluation. Falls back to an in-memory slice-of-timestamps map, guarded
// by a mutex, when Redis is unavailable.
type RateLimiter struct {
	redis *redis.Client

	mu    sync.Mutex
	local map[string][]time.Time
}

func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{redis: rdb, local: make(map[string][]time.Time)}
}

func rateLimitKey(key string) string {
	return "dbgateway:rl:" + key
}

// Allow evaluates key's sliding window against limit, admitting and
// recording now's timestamp if under the limit. limit<=0 means rate
// limiting is disabled for this key (no effective limit configured).
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) error {
	if limit <= 0 {
		return nil
	}

	if r.redis != nil {
		err := r.allowRedis(ctx, key, limit, now)
		if err == nil || isRateLimitError(err) {
			return err
		}
		// any other Redis error: fail open, fall through to in-memory path
	}

	return r.allowLocal(key, limit, now)
}

func (r *RateLimiter) allowRedis(ctx context.Context, key string, limit int, now time.Time) error {
	rk := rateLimitKey(key)
	windowStart := now.Add(-rateLimitWindow)

	if err := r.redis.ZRemRangeByScore(ctx, rk, "-inf", fmt.Sprintf("%d", windowStart.UnixNano())).Err(); err != nil {
		return err
	}
	count, err := r.redis.ZCard(ctx, rk).Result()
	if err != nil {
		return err
	}
	if int(count) >= limit {
		return gwerror.RateLimited("rate limit exceeded for %q", key)
	}
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	if err := r.redis.ZAdd(ctx, rk, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return err
	}
	r.redis.Expire(ctx, rk, rateLimitWindow)
	return nil
}

func (r *RateLimiter) allowLocal(key string, limit int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := now.Add(-rateLimitWindow)
	timestamps := r.local[key]
	kept := timestamps[:0]
	for _, t := range timestamps {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		r.local[key] = kept
		return gwerror.RateLimited("rate limit exceeded for %q", key)
	}
	r.local[key] = append(kept, now)
	return nil
}

func isRateLimitError(err error) bool {
	ge, ok := err.(*gwerror.Error)
	return ok && ge.Kind == gwerror.KindRateLimited
}
