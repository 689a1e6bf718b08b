// Package postgres provides the PostgreSQL-backed [store.Store]. It holds a
// single [pgxpool.Pool] and runs its idempotent migration on startup, so the
// server needs no external migration step.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxwire/voxwire/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL persistence layer. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, verifies it
// with a ping, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Settings implements [store.SettingsStore].
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres store: settings scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: settings rows: %w", err)
	}
	return out, nil
}

// SetSetting implements [store.SettingsStore] with an upsert.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("postgres store: set setting %q: %w", key, err)
	}
	return nil
}

// AppendConversation implements [store.ConversationLog].
func (s *Store) AppendConversation(ctx context.Context, entry store.ConversationEntry) error {
	const q = `
		INSERT INTO conversations (role, text, tokens_in, tokens_out, cost)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		entry.Role,
		entry.Text,
		entry.TokensIn,
		entry.TokensOut,
		entry.Cost,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append conversation: %w", err)
	}
	return nil
}

// Conversations implements [store.ConversationLog]. Entries come back newest
// first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]store.ConversationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, role, text, tokens_in, tokens_out, cost, created_at
		FROM   conversations
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: conversations: %w", err)
	}
	defer rows.Close()

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ConversationEntry, error) {
		var e store.ConversationEntry
		err := row.Scan(&e.ID, &e.Role, &e.Text, &e.TokensIn, &e.TokensOut, &e.Cost, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: conversations scan: %w", err)
	}
	return entries, nil
}

// ClearConversations implements [store.ConversationLog].
func (s *Store) ClearConversations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("postgres store: clear conversations: %w", err)
	}
	return nil
}

// AppendLog implements [store.EventLog].
func (s *Store) AppendLog(ctx context.Context, level, message string) error {
	const q = `INSERT INTO logs (level, message) VALUES ($1, $2)`

	if _, err := s.pool.Exec(ctx, q, level, message); err != nil {
		return fmt.Errorf("postgres store: append log: %w", err)
	}
	return nil
}

// Logs implements [store.EventLog]. Records come back newest first.
func (s *Store) Logs(ctx context.Context, limit int) ([]store.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, level, message, created_at
		FROM   logs
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: logs: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.LogEntry, error) {
		var e store.LogEntry
		err := row.Scan(&e.ID, &e.Level, &e.Message, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: logs scan: %w", err)
	}
	return records, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
