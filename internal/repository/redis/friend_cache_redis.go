package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/redis/go-redis/v9"
)

type friendCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFriendCache creates a Redis-backed friend status cache. Entries expire
// after ttl, which only forces a fresh platform lookup.
func NewFriendCache(client *redis.Client, ttl time.Duration) repository.FriendCache {
	return &friendCache{client: client, ttl: ttl}
}

func (c *friendCache) Get(ctx context.Context, identity string) (bool, bool, error) {
	val, err := c.client.Get(ctx, friendKey(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read friend status: %w", err)
	}
	return val == "1", true, nil
}

func (c *friendCache) Set(ctx context.Context, identity string, isFriend bool) error {
	val := "0"
	if isFriend {
		val = "1"
	}
	if err := c.client.Set(ctx, friendKey(identity), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store friend status: %w", err)
	}
	return nil
}

func (c *friendCache) Invalidate(ctx context.Context, identity string) error {
	if err := c.client.Del(ctx, friendKey(identity)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate friend status: %w", err)
	}
	return nil
}
