package revocation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of go-redis used by the store; *redis.Client and
// *redis.ClusterClient satisfy it.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a Store backed by native key expiry.
type Redis struct {
	rdb redisClient
}

var _ Store = (*Redis)(nil)

// NewRedis wraps a go-redis client.
func NewRedis(rdb redisClient) *Redis { return &Redis{rdb: rdb} }

// Denylist sets the key with the token's remaining lifetime.
func (r *Redis) Denylist(ctx context.Context, raw string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, Key(raw), 1, ttl).Err()
}

// DenylistOnce uses SET NX so concurrent callers agree on a single winner.
func (r *Redis) DenylistOnce(ctx context.Context, raw string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	return r.rdb.SetNX(ctx, Key(raw), 1, ttl).Result()
}

// IsDenylisted checks key existence.
func (r *Redis) IsDenylisted(ctx context.Context, raw string) (bool, error) {
	n, err := r.rdb.Exists(ctx, Key(raw)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
