package repository

import (
	"context"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/google/uuid"
)

// SessionRepository owns verification sessions. Implementations keep at most
// one active session per identity: Create removes the previous active session
// for the identity and hands it back to the caller.
type SessionRepository interface {
	Create(ctx context.Context, identity, callbackURL string, ttl time.Duration) (created *domain.Session, superseded *domain.Session, err error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (bool, error)
	ListActive(ctx context.Context, now time.Time) ([]*domain.Session, error)
	ListExpiredUnverified(ctx context.Context, now time.Time) ([]*domain.Session, error)
	ListExpiredVerified(ctx context.Context, now time.Time) ([]*domain.Session, error)
	Ping(ctx context.Context) error
}

// RateLimitUpdateFunc mutates the bucket in place. It runs while the
// identity's bucket is held exclusively.
type RateLimitUpdateFunc func(state *domain.RateLimitState, exists bool) domain.RateLimitResult

// RateLimitRepository persists token buckets and serializes updates per identity.
type RateLimitRepository interface {
	Update(ctx context.Context, identity string, fn RateLimitUpdateFunc) (domain.RateLimitResult, error)
}

// FriendCache remembers which identities are confirmed friends of the bot.
// It is an optimization only; the platform stays the source of truth.
type FriendCache interface {
	Get(ctx context.Context, identity string) (isFriend bool, known bool, err error)
	Set(ctx context.Context, identity string, isFriend bool) error
	Invalidate(ctx context.Context, identity string) error
}
