package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/jmoiron/sqlx"
)

type rateLimitRepository struct {
	db *sqlx.DB
}

// NewRateLimitRepository creates a new PostgreSQL token bucket repository
func NewRateLimitRepository(db *sqlx.DB) repository.RateLimitRepository {
	return &rateLimitRepository{db: db}
}

// Update runs fn on the identity's bucket inside one transaction. The advisory
// lock also covers the first check, before any row exists to lock.
func (r *rateLimitRepository) Update(ctx context.Context, identity string, fn repository.RateLimitUpdateFunc) (domain.RateLimitResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "ratelimit:"+identity); err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("failed to lock rate limit: %w", err)
	}

	var state domain.RateLimitState
	exists := true
	err = tx.GetContext(ctx, &state, `
		SELECT tokens, last_refill
		FROM verification_rate_limits
		WHERE identity = $1`, identity)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.RateLimitResult{}, fmt.Errorf("failed to load rate limit: %w", err)
		}
		exists = false
	}

	result := fn(&state, exists)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verification_rate_limits (identity, tokens, last_refill)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE
		SET tokens = EXCLUDED.tokens, last_refill = EXCLUDED.last_refill`,
		identity, state.Tokens, state.LastRefill)
	if err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("failed to store rate limit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.RateLimitResult{}, fmt.Errorf("failed to commit rate limit: %w", err)
	}
	return result, nil
}
