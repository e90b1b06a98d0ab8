package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/redis/go-redis/v9"
)

type rateLimitRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRateLimitRepository creates a Redis-backed token bucket store. Buckets
// idle for longer than ttl are dropped by Redis; a fresh bucket is full, so
// that only forgets unused allowance.
func NewRateLimitRepository(client *redis.Client, ttl time.Duration) repository.RateLimitRepository {
	return &rateLimitRepository{client: client, ttl: ttl}
}

// Update applies fn inside a WATCH/MULTI transaction on the identity's key,
// retrying when another writer got there first.
func (r *rateLimitRepository) Update(ctx context.Context, identity string, fn repository.RateLimitUpdateFunc) (domain.RateLimitResult, error) {
	key := rateLimitKey(identity)
	var result domain.RateLimitResult

	txf := func(tx *redis.Tx) error {
		var state domain.RateLimitState
		exists := true

		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			exists = false
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &state); err != nil {
				return fmt.Errorf("failed to decode rate limit state: %w", err)
			}
		}

		result = fn(&state, exists)

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode rate limit state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.RateLimitResult{}, fmt.Errorf("failed to update rate limit: %w", err)
		}
		return result, nil
	}
	return domain.RateLimitResult{}, fmt.Errorf("failed to update rate limit: transaction retries exhausted")
}
