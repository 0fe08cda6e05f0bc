package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript prunes expired slots, checks the cap and claims a slot in a
// single atomic execution, so concurrent handshakes for the same user cannot
// both slip under the cap.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local conn = ARGV[4]
redis.call("ZREMRANGEBYSCORE", key, "-inf", now)
if redis.call("ZCARD", key) >= max then
	return 0
end
redis.call("ZADD", key, now + ttl, conn)
redis.call("PEXPIRE", key, ttl)
return 1
`)

// RedisRegistry keeps one sorted set per user (member = connection id,
// score = slot deadline in unix milliseconds), so the cap holds across
// multiple gateway instances sharing a Redis.
type RedisRegistry struct {
	redis      *redis.Client
	maxPerUser int
	ttl        time.Duration
}

func NewRedisRegistry(client *redis.Client, maxPerUser int, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{
		redis:      client,
		maxPerUser: maxPerUser,
		ttl:        ttl,
	}
}

func (r *RedisRegistry) key(userID string) string {
	return fmt.Sprintf("stream:%s", userID)
}

func (r *RedisRegistry) Acquire(ctx context.Context, userID, connID string) error {
	granted, err := acquireScript.Run(ctx, r.redis,
		[]string{r.key(userID)},
		time.Now().UnixMilli(), r.ttl.Milliseconds(), r.maxPerUser, connID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to register stream: %w", err)
	}
	if granted == 0 {
		return ErrTooManyStreams
	}
	return nil
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, userID, connID string) error {
	deadline := float64(time.Now().Add(r.ttl).UnixMilli())
	if err := r.redis.ZAddXX(ctx, r.key(userID), redis.Z{Score: deadline, Member: connID}).Err(); err != nil {
		return err
	}
	return r.redis.PExpire(ctx, r.key(userID), r.ttl).Err()
}

func (r *RedisRegistry) Release(ctx context.Context, userID, connID string) error {
	return r.redis.ZRem(ctx, r.key(userID), connID).Err()
}
