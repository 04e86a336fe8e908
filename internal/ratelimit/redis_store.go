// redis_store.go: Redis-backed fixed-window counter store for
// multi-instance deployments. Uses a Lua script for atomicity.
package ratelimit

import (
	"fmt"
	"time"

	"context"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the key and stamps the window TTL on first
// use, returning the new count and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore implements WindowStore on a shared Redis instance so that
// limits hold across service replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis window store from connection options.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "rl:",
	}
}

// NewRedisStoreWithClient wraps an existing client (tests, shared pools).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "rl:"}
}

// Incr atomically increments the window counter for key.
func (rs *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, rs.client, []string{rs.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("fixed window script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, 0, fmt.Errorf("unexpected redis script result: %v", res)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

// Peek reads the counter without incrementing.
func (rs *RedisStore) Peek(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := rs.client.Pipeline()
	getCmd := pipe.Get(ctx, rs.prefix+key)
	ttlCmd := pipe.PTTL(ctx, rs.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("peek pipeline: %w", err)
	}
	count, err := getCmd.Int64()
	if err == redis.Nil {
		return 0, window, nil
	}
	if err != nil {
		return 0, 0, err
	}
	ttl, err := ttlCmd.Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return count, ttl, nil
}

// Reset deletes the counter for key.
func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	return rs.client.Del(ctx, rs.prefix+key).Err()
}

// HealthCheck verifies Redis connectivity.
func (rs *RedisStore) HealthCheck(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
