// Package redisstore keeps minted vendor session tokens in Redis so every
// worker process can reuse them until they expire.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relay:vendor_token:"

// Open connects and pings.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

type TokenCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewTokenCache(rdb redis.Cmdable, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &TokenCache{rdb: rdb, ttl: ttl}
}

func tokenKey(accountID uint64) string {
	return fmt.Sprintf("%s%d", keyPrefix, accountID)
}

func (c *TokenCache) Get(ctx context.Context, accountID uint64) (string, bool, error) {
	tok, err := c.rdb.Get(ctx, tokenKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tok, true, nil
}

func (c *TokenCache) Set(ctx context.Context, accountID uint64, token string) error {
	return c.rdb.Set(ctx, tokenKey(accountID), token, c.ttl).Err()
}

// Forget drops a cached token, e.g. after the vendor rejected it.
func (c *TokenCache) Forget(ctx context.Context, accountID uint64) error {
	return c.rdb.Del(ctx, tokenKey(accountID)).Err()
}
