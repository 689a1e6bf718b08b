// Package store defines the persistence contracts for voxwire: a key–value
// settings store, an append-only conversation log, and an append-only event
// log.
//
// Two implementations exist: [MemStore] (in-process, used in tests and when
// no database is configured) and the PostgreSQL store in the postgres
// subpackage. All implementations must be safe for concurrent use.
package store

import (
	"context"
	"time"
)

// ConversationEntry is one turn of a conversation. Entries are append-only.
// The JSON shape is what the admin API serves.
type ConversationEntry struct {
	// ID is assigned by the store on append.
	ID int64 `json:"id"`

	// Role is either "user" or "assistant".
	Role string `json:"role"`

	// Text is the turn's plain text.
	Text string `json:"text"`

	// TokensIn and TokensOut are estimated token counts for the turn.
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`

	// Cost is the estimated USD cost attributed to this turn.
	Cost float64 `json:"cost"`

	// CreatedAt records when the entry was appended.
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one append-only event-log record.
type LogEntry struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SettingsStore is a flat string→string key–value store with
// last-write-wins semantics.
type SettingsStore interface {
	// Settings returns all stored key/value pairs.
	Settings(ctx context.Context) (map[string]string, error)

	// SetSetting upserts a single key.
	SetSetting(ctx context.Context, key, value string) error
}

// ConversationLog is the append-only conversation history.
type ConversationLog interface {
	// AppendConversation appends one turn. The entry's ID and CreatedAt are
	// assigned by the store.
	AppendConversation(ctx context.Context, entry ConversationEntry) error

	// Conversations returns up to limit entries, newest first.
	Conversations(ctx context.Context, limit int) ([]ConversationEntry, error)

	// ClearConversations removes all conversation history.
	ClearConversations(ctx context.Context) error
}

// EventLog is the append-only server event log. Writers must treat failures
// as fail-open: a log append error never blocks the pipeline.
type EventLog interface {
	// AppendLog appends one event record.
	AppendLog(ctx context.Context, level, message string) error

	// Logs returns up to limit records, newest first.
	Logs(ctx context.Context, limit int) ([]LogEntry, error)
}

// Store bundles all three persistence contracts plus lifecycle hooks.
type Store interface {
	SettingsStore
	ConversationLog
	EventLog

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases held resources.
	Close()
}
