package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first INCR in a window sets its expiry, so every instance sharing the
// key sees the same window boundary.
var admitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(redisURL string, cfg Config) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisLimiterWithClient(client, cfg), nil
}

func NewRedisLimiterWithClient(client *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  cfg.Limit,
		window: cfg.Window,
		now:    time.Now,
	}
}

func (r *RedisLimiter) Admit(ctx context.Context, scope, callerID string) (Decision, error) {
	res, err := admitScript.Run(ctx, r.client, []string{"ratelimit:" + key(scope, callerID)}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("admit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("admit: unexpected script result %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	now := r.now()
	resetAt := now.Add(ttl)

	if count > r.limit {
		return Decision{
			Allowed:    false,
			ResetAt:    resetAt,
			RetryAfter: RetryAfter(resetAt, now),
		}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: r.limit - count,
		ResetAt:   resetAt,
	}, nil
}

func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
