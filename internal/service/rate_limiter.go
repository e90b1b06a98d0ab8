package service

import (
	"context"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
)

// RateLimiter caps verification starts per identity with a token bucket that
// refills in whole windows.
type RateLimiter struct {
	repo      repository.RateLimitRepository
	maxTokens int
	window    time.Duration
	clock     repository.Clock
}

func NewRateLimiter(repo repository.RateLimitRepository, maxTokens int, window time.Duration, clock repository.Clock) *RateLimiter {
	return &RateLimiter{
		repo:      repo,
		maxTokens: maxTokens,
		window:    window,
		clock:     clock,
	}
}

// Check consumes one token for identity if one is available.
func (l *RateLimiter) Check(ctx context.Context, identity string) (domain.RateLimitResult, error) {
	now := l.clock.Now()
	return l.repo.Update(ctx, identity, func(state *domain.RateLimitState, exists bool) domain.RateLimitResult {
		if !exists {
			*state = domain.NewRateLimitState(l.maxTokens, now)
		}
		return state.Take(now, l.maxTokens, l.window)
	})
}
