package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist reports revoked token ids (the jti claim).
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, tokenID string) (bool, error)
}

// RedisTokenBlacklist implements TokenBlacklist using Redis. Revocations are
// written by the auth service; this service only reads them.
type RedisTokenBlacklist struct {
	client redis.UniversalClient
}

// NewRedisTokenBlacklist creates a new RedisTokenBlacklist.
func NewRedisTokenBlacklist(client redis.UniversalClient) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{client: client}
}

// Blacklist adds a token id to the blacklist with an expiration.
func (b *RedisTokenBlacklist) Blacklist(ctx context.Context, tokenID string, expiration time.Duration) error {
	return b.client.Set(ctx, "blacklist:"+tokenID, "revoked", expiration).Err()
}

// IsBlacklisted checks if a token id is in the blacklist.
func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	exists, err := b.client.Exists(ctx, "blacklist:"+tokenID).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
