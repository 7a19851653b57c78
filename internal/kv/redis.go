package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript atomically checks-and-increments a counter against a limit.
// KEYS[1] = counter key
// ARGV[1] = amount to reserve
// ARGV[2] = limit (reservation rejected if post-increment total would exceed it)
// ARGV[3] = expiry in seconds (applied only when the key is first created)
//
// Returns {allowed (0 or 1), total}.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local expiry = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key))
if not current then
    current = 0
end

local total = current + amount
if total > limit then
    return {0, current}
end

local existed = redis.call("EXISTS", key)
redis.call("INCRBY", key, amount)
if existed == 0 and expiry > 0 then
    redis.call("EXPIRE", key, expiry)
end

return {1, total}
`)

// rollbackScript atomically subtracts amount from a counter, clamping at
// zero. It must never leave the counter negative: a rollback that exceeds
// the current balance (e.g. a duplicate compensating rollback) simply zeroes
// it out rather than going negative.
var rollbackScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])

local current = tonumber(redis.call("GET", key))
if not current then
    return 0
end

local total = current - amount
if total < 0 then
    total = 0
end
redis.call("DECRBY", key, current - total)
return total
`)

// RedisStore is the production kv.Store, backed by Redis via go-redis v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies connectivity with a Ping.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     50,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("kv: redis ping failed (%s): %w", addr, err)
	}

	slog.Info("kv: redis substrate connected", "addr", addr, "db", db)
	return &RedisStore{client: rdb}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key string, amount, limit int64, expiry time.Duration) (ReserveResult, error) {
	res, err := reserveScript.Run(ctx, s.client, []string{key}, amount, limit, int64(expiry.Seconds())).Result()
	if err != nil {
		return ReserveResult{}, fmt.Errorf("%w: reserve %s: %v", ErrUnavailable, key, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return ReserveResult{}, fmt.Errorf("kv: unexpected reserve script response: %v", res)
	}
	allowed, _ := vals[0].(int64)
	total, _ := vals[1].(int64)

	return ReserveResult{Allowed: allowed == 1, Total: total}, nil
}

func (s *RedisStore) Rollback(ctx context.Context, key string, amount int64) error {
	if err := rollbackScript.Run(ctx, s.client, []string{key}, amount).Err(); err != nil {
		return fmt.Errorf("%w: rollback %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) Current(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: current %s: %v", ErrUnavailable, key, err)
	}
	return val, nil
}

// Claim performs the claim as a single SET-NX-with-expiry round trip — spec
// §4.2 is explicit that this must not be a separate set-then-expire, which
// would leave a window where a crash between the two calls leaves the key
// permanent.
func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: claim %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
