// Package settings maintains a write-through cache over the persisted
// settings table. Sessions read the cached snapshot on every utterance, so
// lookups must never touch the database on the hot path.
package settings

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/store"
)

// Well-known setting keys.
const (
	KeyTier         = "tier"
	KeyChatModel    = "chat_model"
	KeyTTSModel     = "tts_model"
	KeyVoiceName    = "voice_name"
	KeyMaxTokens    = "max_tokens_out"
	KeyTemperature  = "temperature"
	KeySystemPrompt = "system_prompt"
)

// Defaults applied when a key is absent or unparsable.
const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.7
)

// Cache is a write-through cache over a [store.SettingsStore]. Reads serve
// the in-memory snapshot; writes go to the store first and update the
// snapshot only on success. The mutex is never held across store I/O.
type Cache struct {
	store store.SettingsStore

	mu     sync.RWMutex
	values map[string]string
	loaded bool
}

// NewCache returns a Cache over st. The first [Cache.Snapshot] or accessor
// call populates it from the store.
func NewCache(st store.SettingsStore) *Cache {
	return &Cache{store: st}
}

// Load populates the cache from the store, replacing any cached values.
func (c *Cache) Load(ctx context.Context) error {
	vals, err := c.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("settings: load: %w", err)
	}

	c.mu.Lock()
	c.values = vals
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of all cached settings, loading from the store on
// first use. A load failure after the cache is primed serves the stale
// snapshot rather than failing the caller.
func (c *Cache) Snapshot(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()

	if !loaded {
		if err := c.Load(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values), nil
}

// Set writes key through to the store and updates the snapshot on success.
// On store failure the cache is invalidated so the next read reloads, which
// keeps the cache from drifting ahead of persisted state.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.store.SetSetting(ctx, key, value); err != nil {
		c.Invalidate()
		return fmt.Errorf("settings: set %q: %w", key, err)
	}

	c.mu.Lock()
	if c.values == nil {
		c.values = make(map[string]string)
	}
	c.values[key] = value
	c.mu.Unlock()
	return nil
}

// Invalidate discards the cached snapshot. The next read reloads from the
// store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.values = nil
	c.loaded = false
	c.mu.Unlock()
}

// get returns the cached value for key, loading on first use.
func (c *Cache) get(ctx context.Context, key string) string {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()

	if !loaded {
		// Best effort: a failed load behaves like an empty settings table.
		_ = c.Load(ctx)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// Tier returns the configured cost tier, defaulting to medium.
func (c *Cache) Tier(ctx context.Context) config.Tier {
	return config.ParseTier(c.get(ctx, KeyTier))
}

// ChatModel returns the chat model to use, resolving the tier mapping
// against the configured override.
func (c *Cache) ChatModel(ctx context.Context) string {
	return c.Tier(ctx).ChatModel(c.get(ctx, KeyChatModel))
}

// MaxTokens returns the completion token cap, defaulting to
// [DefaultMaxTokens] when absent or unparsable.
func (c *Cache) MaxTokens(ctx context.Context) int {
	n, err := strconv.Atoi(c.get(ctx, KeyMaxTokens))
	if err != nil || n <= 0 {
		return DefaultMaxTokens
	}
	return n
}

// Temperature returns the sampling temperature, defaulting to
// [DefaultTemperature] when absent or out of the [0, 2] range.
func (c *Cache) Temperature(ctx context.Context) float64 {
	f, err := strconv.ParseFloat(c.get(ctx, KeyTemperature), 64)
	if err != nil || f < 0 || f > 2 {
		return DefaultTemperature
	}
	return f
}

// SystemPrompt returns the configured system prompt, or the empty string.
func (c *Cache) SystemPrompt(ctx context.Context) string {
	return c.get(ctx, KeySystemPrompt)
}

// Voice returns the configured TTS voice, falling back to configured.
func (c *Cache) Voice(ctx context.Context, configured string) string {
	if v := c.get(ctx, KeyVoiceName); v != "" {
		return v
	}
	return configured
}

// TTSModel returns the configured TTS model, falling back to configured.
func (c *Cache) TTSModel(ctx context.Context, configured string) string {
	if v := c.get(ctx, KeyTTSModel); v != "" {
		return v
	}
	return configured
}
