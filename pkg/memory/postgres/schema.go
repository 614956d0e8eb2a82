// Package postgres provides a PostgreSQL-backed [memory.SessionStore].
//
// Only text turns are persisted (call_turns table); audio never reaches the
// database.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.WriteEntry(ctx, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCallTurns = `
CREATE TABLE IF NOT EXISTS call_turns (
    id           BIGSERIAL    PRIMARY KEY,
    call_id      TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    language     TEXT         NOT NULL DEFAULT '',
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_call_turns_call_timestamp
    ON call_turns (call_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_call_turns_fts
    ON call_turns USING GIN (to_tsvector('simple', text));
`

// Migrate creates the call_turns table and its indexes. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCallTurns); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
