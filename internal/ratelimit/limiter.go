package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "ratelimit:"

// RedisLimiter is a sliding-window limiter backed by a sorted set per identifier
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per window for each identifier
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

// Allow records the request and reports whether it fits in the window.
// Denied requests are removed again so they do not extend the penalty.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := keyPrefix + identifier
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	floor := strconv.FormatInt(now.Add(-l.window).UnixNano(), 10)

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", "("+floor)
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.PExpire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	if card.Val() > int64(l.limit) {
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			return false, fmt.Errorf("rate limit rollback failed: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// InMemoryLimiter is a process-local sliding-window limiter for dev mode
type InMemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewInMemoryLimiter(limit int, window time.Duration) *InMemoryLimiter {
	return &InMemoryLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, identifier string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	floor := now.Add(-l.window)
	kept := l.hits[identifier][:0]
	for _, hit := range l.hits[identifier] {
		if !hit.Before(floor) {
			kept = append(kept, hit)
		}
	}
	if len(kept) >= l.limit {
		l.hits[identifier] = kept
		return false, nil
	}
	l.hits[identifier] = append(kept, now)
	return true, nil
}
