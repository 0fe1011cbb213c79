package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var fixedWindowLua = redis.NewScript(fixedWindowScript)

// Decision is the outcome of one counted request.
type Decision struct {
	Permitted  bool
	Limit      int
	Remaining  int
	Count      int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows stored in Redis.
type Limiter struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient, now: time.Now}
}

// Allow counts one hit on key and compares the post-increment count to max.
func (l *Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if window < time.Millisecond || max <= 0 {
		return Decision{}, ErrInvalidWindow
	}

	res, err := fixedWindowLua.Run(ctx, l.redis, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	d := Decision{
		Permitted: count <= int64(max),
		Limit:     max,
		Count:     count,
		ResetAt:   l.now().Add(ttl),
	}
	if remaining := int64(max) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Permitted {
		d.RetryAfter = ttl
	}
	return d, nil
}
