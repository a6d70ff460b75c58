// Package postgres provides a PostgreSQL-backed [journal.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Record(ctx, entry)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Store writes journal entries to the listen_sessions table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Record implements [journal.Store].
func (s *Store) Record(ctx context.Context, e journal.Entry) error {
	const q = `
		INSERT INTO listen_sessions
		    (session_id, started_at, ended_at, outcome, transcript, audio_duration_ns, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.StartedAt,
		e.EndedAt,
		e.Outcome,
		e.Transcript,
		e.AudioDuration.Nanoseconds(),
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("journal store: record: %w", err)
	}
	return nil
}

// Recent implements [journal.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = journal.DefaultCapacity
	}
	const q = `
		SELECT session_id, started_at, ended_at, outcome, transcript, audio_duration_ns, error
		FROM   listen_sessions
		ORDER  BY ended_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("journal store: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var (
			e       journal.Entry
			audioNS int64
		)
		if err := row.Scan(
			&e.SessionID,
			&e.StartedAt,
			&e.EndedAt,
			&e.Outcome,
			&e.Transcript,
			&audioNS,
			&e.Error,
		); err != nil {
			return journal.Entry{}, err
		}
		e.AudioDuration = time.Duration(audioNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}

// Ping checks the database connection. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
