// Package postgres implements [history.Store] on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicelark/voicelark/internal/history"
)

// Schema is the SQL DDL for the conversation_turns table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id           BIGSERIAL PRIMARY KEY,
    channel_id   TEXT NOT NULL,
    role         TEXT NOT NULL,
    speaker_name TEXT NOT NULL DEFAULT '',
    text         TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_channel
    ON conversation_turns(channel_id, created_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is a [history.Store] backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool // set when constructed via Connect, for Close
}

// New creates a Store over an existing connection or pool. The caller is
// responsible for calling [Store.Migrate] before issuing queries, and for
// closing the underlying connection.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pgx pool for connString and returns a Store owning it.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// Migrate executes the [Schema] DDL, creating the conversation_turns table
// and index if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Append records one turn.
func (s *Store) Append(ctx context.Context, turn history.Turn) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversation_turns (channel_id, role, speaker_name, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		turn.ChannelID, string(turn.Role), turn.SpeakerName, turn.Text, turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns up to limit of the channel's most recent turns, oldest first.
func (s *Store) Recent(ctx context.Context, channelID string, limit int) ([]history.Turn, error) {
	rows, err := s.db.Query(ctx,
		`SELECT channel_id, role, speaker_name, text, created_at
		 FROM conversation_turns
		 WHERE channel_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var t history.Turn
		var role string
		if err := rows.Scan(&t.ChannelID, &role, &t.SpeakerName, &t.Text, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("history: scan turn: %w", err)
		}
		t.Role = history.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}

	// Reverse to oldest-first for prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Ping verifies database connectivity. Used by the readiness check. A Store
// constructed over an existing connection (without a pool) always reports
// healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return nil
}

// Close releases the pool when the Store owns one.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
