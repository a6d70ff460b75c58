package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlListenSessions = `
CREATE TABLE IF NOT EXISTS listen_sessions (
    id                BIGSERIAL    PRIMARY KEY,
    session_id        TEXT         NOT NULL,
    started_at        TIMESTAMPTZ  NOT NULL,
    ended_at          TIMESTAMPTZ  NOT NULL,
    outcome           TEXT         NOT NULL,
    transcript        TEXT         NOT NULL DEFAULT '',
    audio_duration_ns BIGINT       NOT NULL DEFAULT 0,
    error             TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_listen_sessions_ended_at
    ON listen_sessions (ended_at DESC);

CREATE INDEX IF NOT EXISTS idx_listen_sessions_outcome
    ON listen_sessions (outcome);
`

// Migrate creates the journal table and indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlListenSessions); err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	return nil
}
