package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andressep95/geo-verification/internal/domain"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const sessionColumns = `id, identity, code, verified, callback_url, created_at, expires_at`

type sessionRepository struct {
	db         *sqlx.DB
	codeLength int
	clock      repository.Clock
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB, codeLength int, clock repository.Clock) repository.SessionRepository {
	return &sessionRepository{db: db, codeLength: codeLength, clock: clock}
}

// Create inserts a new session, removing the identity's active session in the
// same transaction. An advisory lock keyed by identity serializes creators.
func (r *sessionRepository) Create(ctx context.Context, identity, callbackURL string, ttl time.Duration) (*domain.Session, *domain.Session, error) {
	code, err := domain.GenerateCode(r.codeLength)
	if err != nil {
		return nil, nil, err
	}

	now := r.clock.Now()
	session := &domain.Session{
		ID:          uuid.New(),
		Identity:    identity,
		Code:        code,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identity); err != nil {
		return nil, nil, fmt.Errorf("failed to lock identity: %w", err)
	}

	var previous []*domain.Session
	err = tx.SelectContext(ctx, &previous, `
		SELECT `+sessionColumns+`
		FROM verification_sessions
		WHERE identity = $1 AND expires_at > $2
		ORDER BY created_at DESC
		FOR UPDATE`, identity, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active session: %w", err)
	}

	var superseded *domain.Session
	for _, prev := range previous {
		if _, err := tx.ExecContext(ctx, `DELETE FROM verification_sessions WHERE id = $1`, prev.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to supersede session: %w", err)
		}
		if superseded == nil {
			superseded = prev
		}
	}

	query := `
		INSERT INTO verification_sessions (
			id, identity, code, verified, callback_url, created_at, expires_at
		) VALUES (
			:id, :identity, :code, :verified, :callback_url, :created_at, :expires_at
		)`
	if _, err := tx.NamedExecContext(ctx, query, session); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return session, superseded, nil
}

// Get retrieves a session by its ID
func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var session domain.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+`
		FROM verification_sessions
		WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session by id: %w", err)
	}
	if session.IsExpired(r.clock.Now()) && !session.Verified {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

// Delete removes a session by ID and reports whether a row was removed
func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM verification_sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkVerified flips the verified flag once, and only before the deadline
func (r *sessionRepository) MarkVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE verification_sessions
		SET verified = true
		WHERE id = $1 AND verified = false AND expires_at > $2`, id, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("failed to mark session verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM verification_sessions WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return false, domain.ErrSessionNotFound
	}
	return false, nil
}

// ListActive returns sessions whose deadline is after now
func (r *sessionRepository) ListActive(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+`
		FROM verification_sessions
		WHERE expires_at > $1
		ORDER BY created_at`, now)
}

// ListExpiredUnverified returns unverified sessions past their deadline
func (r *sessionRepository) ListExpiredUnverified(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+`
		FROM verification_sessions
		WHERE expires_at <= $1 AND verified = false
		ORDER BY created_at`, now)
}

// ListExpiredVerified returns verified sessions past their deadline
func (r *sessionRepository) ListExpiredVerified(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+`
		FROM verification_sessions
		WHERE expires_at <= $1 AND verified = true
		ORDER BY created_at`, now)
}

func (r *sessionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *sessionRepository) list(ctx context.Context, query string, now time.Time) ([]*domain.Session, error) {
	var sessions []*domain.Session
	if err := r.db.SelectContext(ctx, &sessions, query, now); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
