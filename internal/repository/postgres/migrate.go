package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS verification_sessions (
    id uuid PRIMARY KEY,
    identity text NOT NULL,
    code text NOT NULL,
    verified boolean NOT NULL DEFAULT false,
    callback_url text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL,
    expires_at timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS verification_sessions_identity_idx
ON verification_sessions (identity);

CREATE INDEX IF NOT EXISTS verification_sessions_expires_at_idx
ON verification_sessions (expires_at);

CREATE TABLE IF NOT EXISTS verification_rate_limits (
    identity text PRIMARY KEY,
    tokens integer NOT NULL,
    last_refill timestamptz NOT NULL
);
`

// Migrate creates the verification tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}
