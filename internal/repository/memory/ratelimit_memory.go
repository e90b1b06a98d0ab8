package memory

import (
	"context"
	"sync"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
)

type bucket struct {
	mu     sync.Mutex
	state  domain.RateLimitState
	exists bool
}

type rateLimitRepository struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimitRepository creates an in-process token bucket store.
func NewRateLimitRepository() repository.RateLimitRepository {
	return &rateLimitRepository{
		buckets: make(map[string]*bucket),
	}
}

// Update runs fn under the identity's own lock so checks for different
// identities never wait on each other.
func (r *rateLimitRepository) Update(ctx context.Context, identity string, fn repository.RateLimitUpdateFunc) (domain.RateLimitResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.RateLimitResult{}, err
	}

	r.mu.Lock()
	b, ok := r.buckets[identity]
	if !ok {
		b = &bucket{}
		r.buckets[identity] = b
	}
	r.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	result := fn(&b.state, b.exists)
	b.exists = true
	return result, nil
}
