package sso

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const nonceKeyPrefix = "sso:nonce:"

// RedisNonceStore shares nonce consumption across instances. SET NX makes
// the first consumer win; the key expires with the state validity window.
type RedisNonceStore struct {
	client redis.Cmdable
}

// NewRedisNonceStore wraps an existing redis client.
func NewRedisNonceStore(client redis.Cmdable) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

// Consume reports whether this call was the first use of the nonce.
func (r *RedisNonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.client.SetNX(ctx, nonceKeyPrefix+nonce, "1", ttl).Result()
}
