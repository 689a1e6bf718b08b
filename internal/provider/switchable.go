package provider

import (
	"context"
	"sync"
)

var _ Adapter = (*Switchable)(nil)

// Switchable is an Adapter whose backing implementation can be replaced at
// runtime. The admin restart endpoint swaps in a new adapter after re-reading
// credentials; sessions and the TTS pool keep their reference and pick up the
// new backend on the next call.
type Switchable struct {
	mu         sync.RWMutex
	inner      Adapter
	configured bool
}

// NewSwitchable wraps inner. configured reports whether real credentials are
// present; without them sessions run in degraded mode.
func NewSwitchable(inner Adapter, configured bool) *Switchable {
	return &Switchable{inner: inner, configured: configured}
}

// Swap replaces the backing adapter. In-flight calls finish on the old one.
func (s *Switchable) Swap(inner Adapter, configured bool) {
	s.mu.Lock()
	s.inner = inner
	s.configured = configured
	s.mu.Unlock()
}

// Configured reports whether the current adapter has real credentials.
func (s *Switchable) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configured
}

func (s *Switchable) current() Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner
}

// Transcribe implements [Adapter].
func (s *Switchable) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return s.current().Transcribe(ctx, audio, filename)
}

// Chat implements [Adapter].
func (s *Switchable) Chat(ctx context.Context, req ChatRequest) (string, error) {
	return s.current().Chat(ctx, req)
}

// ChatStream implements [Adapter].
func (s *Switchable) ChatStream(ctx context.Context, req ChatRequest) (<-chan Token, error) {
	return s.current().ChatStream(ctx, req)
}

// Synthesize implements [Adapter].
func (s *Switchable) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.current().Synthesize(ctx, text)
}

// Moderate implements [Adapter].
func (s *Switchable) Moderate(ctx context.Context, text string) (Moderation, error) {
	return s.current().Moderate(ctx, text)
}

// ListModels implements [Adapter].
func (s *Switchable) ListModels(ctx context.Context) ([]string, error) {
	return s.current().ListModels(ctx)
}
