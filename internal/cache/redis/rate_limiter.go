package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter is a sliding-window limiter over "<ns>:ratelimit:<key>"
// sorted sets. Denied requests are not counted.
type RateLimiter struct {
	c      *Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, script: redis.NewScript(slidingWindowLua), now: time.Now}
}

// Allow counts one request under key against limit per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	now := rl.now().UnixMicro()
	res, err := rl.script.Run(ctx, rl.c.rdb,
		[]string{rl.c.Key("ratelimit", key)},
		now, window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	return decide(res[0] == 1, int(res[1]), limit, res[2], now, window), nil
}

// decide turns the script reply into a RateDecision. Times are microseconds.
func decide(allowed bool, count, limit int, oldest, now int64, window time.Duration) domain.RateDecision {
	d := domain.RateDecision{Allowed: allowed, Remaining: limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !allowed {
		wait := time.Duration(oldest+window.Microseconds()-now) * time.Microsecond
		if wait < time.Second {
			wait = time.Second
		}
		d.RetryAfter = wait
	}
	return d
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
