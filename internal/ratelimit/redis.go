package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// hitScript increments the counter and starts its window on first hit. The
// remaining TTL tells the caller when the window started.
var hitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares counters across instances. Expiry is left to Redis.
type RedisStore struct {
	client redis.Scripter
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis parses a redis:// URL and checks the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	values, err := hitScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis rate limit hit: %w", err)
	}
	if len(values) != 2 {
		return Counter{}, fmt.Errorf("redis rate limit hit: unexpected reply of %d values", len(values))
	}

	remaining := time.Duration(values[1]) * time.Millisecond
	return Counter{
		Count:       values[0],
		WindowStart: now.Add(remaining - window),
	}, nil
}
