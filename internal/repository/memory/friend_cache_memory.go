package memory

import (
	"context"
	"sync"

	"github.com/andressep95/geo-verification/internal/repository"
)

type friendCache struct {
	mu      sync.RWMutex
	friends map[string]bool
}

// NewFriendCache creates an in-process friend status cache.
func NewFriendCache() repository.FriendCache {
	return &friendCache{
		friends: make(map[string]bool),
	}
}

func (c *friendCache) Get(ctx context.Context, identity string) (bool, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	isFriend, known := c.friends[identity]
	return isFriend, known, nil
}

func (c *friendCache) Set(ctx context.Context, identity string, isFriend bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.friends[identity] = isFriend
	return nil
}

func (c *friendCache) Invalidate(ctx context.Context, identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.friends, identity)
	return nil
}
