package store

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemStore is an in-process [Store]. It backs the server when no database is
// configured and stands in for PostgreSQL in tests.
type MemStore struct {
	mu            sync.RWMutex
	settings      map[string]string
	conversations []ConversationEntry
	logs          []LogEntry
	nextConvID    int64
	nextLogID     int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		settings:   make(map[string]string),
		nextConvID: 1,
		nextLogID:  1,
	}
}

// Settings implements [SettingsStore].
func (m *MemStore) Settings(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.settings), nil
}

// SetSetting implements [SettingsStore].
func (m *MemStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// AppendConversation implements [ConversationLog].
func (m *MemStore) AppendConversation(_ context.Context, entry ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextConvID
	m.nextConvID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.conversations = append(m.conversations, entry)
	return nil
}

// Conversations implements [ConversationLog]. Entries come back newest first.
func (m *MemStore) Conversations(_ context.Context, limit int) ([]ConversationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.conversations)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ConversationEntry, 0, n)
	for i := len(m.conversations) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.conversations[i])
	}
	return out, nil
}

// ClearConversations implements [ConversationLog].
func (m *MemStore) ClearConversations(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = nil
	return nil
}

// AppendLog implements [EventLog].
func (m *MemStore) AppendLog(_ context.Context, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, LogEntry{
		ID:        m.nextLogID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	})
	m.nextLogID++
	return nil
}

// Logs implements [EventLog]. Records come back newest first.
func (m *MemStore) Logs(_ context.Context, limit int) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.logs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]LogEntry, 0, n)
	for i := len(m.logs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}

// Ping implements [Store].
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *MemStore) Close() {}
