package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"companion-chat/server/internal/interfaces"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func limiters(t *testing.T, c *stepClock) map[string]interfaces.RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rl := NewRedisLimiter(client, 2, 10*time.Second)
	rl.now = c.now
	ml := NewInMemoryLimiter(2, 10*time.Second)
	ml.now = c.now
	return map[string]interfaces.RateLimiter{"redis": rl, "memory": ml}
}

func TestLimiterWindow(t *testing.T) {
	ctx := context.Background()
	c := &stepClock{}
	for name, limiter := range limiters(t, c) {
		t.Run(name, func(t *testing.T) {
			c.t = time.Unix(1700000000, 0)

			for i := 0; i < 2; i++ {
				ok, err := limiter.Allow(ctx, "u1")
				if err != nil || !ok {
					t.Fatalf("Allow #%d = (%v, %v), want allowed", i, ok, err)
				}
				c.t = c.t.Add(time.Second)
			}

			ok, err := limiter.Allow(ctx, "u1")
			if err != nil || ok {
				t.Fatalf("third Allow = (%v, %v), want denied", ok, err)
			}

			ok, _ = limiter.Allow(ctx, "u2")
			if !ok {
				t.Fatalf("Allow(u2) denied; identifiers must be independent")
			}

			c.t = c.t.Add(9 * time.Second)
			ok, err = limiter.Allow(ctx, "u1")
			if err != nil || !ok {
				t.Fatalf("Allow after window = (%v, %v), want allowed", ok, err)
			}
		})
	}
}
