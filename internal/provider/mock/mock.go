// Package mock provides a test double for the provider.Adapter interface.
//
// Use Adapter in unit tests to feed controlled transcripts, token streams,
// and audio without a live upstream. Configure response fields before
// handing the mock to the code under test; call records can be read back
// after the test via the accessor methods.
//
// Example:
//
//	p := &mock.Adapter{
//	    StreamTokens:    []string{"Hello", " there."},
//	    SynthesizeAudio: []byte{0x01},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/provider"
)

var _ provider.Adapter = (*Adapter)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Audio    []byte
	Filename string
}

// ChatCall records a single invocation of Chat or ChatStream.
type ChatCall struct {
	Req       provider.ChatRequest
	Streaming bool
}

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text string
}

// Adapter is a mock implementation of [provider.Adapter]. Zero values for
// response fields cause methods to return zero values and nil errors; set
// the Err fields to inject failures.
type Adapter struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeText is returned by Transcribe.
	TranscribeText string

	// TranscribeErr, if non-nil, is returned by Transcribe.
	TranscribeErr error

	// ChatText is returned by Chat.
	ChatText string

	// ChatErr, if non-nil, is returned by Chat and ChatStream.
	ChatErr error

	// StreamTokens is the token sequence emitted by ChatStream before the
	// channel closes.
	StreamTokens []string

	// StreamTokenDelay, when positive, is slept between emitted tokens so
	// tests can exercise mid-stream cancellation.
	StreamTokenDelay time.Duration

	// StreamTailErr, if non-nil, is emitted as a terminal Token.Err after
	// StreamTokens.
	StreamTailErr error

	// SynthesizeAudio is returned by Synthesize for every sentence.
	SynthesizeAudio []byte

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// SynthesizeDelay, when positive, is slept inside Synthesize so tests
	// can exercise pool ordering and cancellation.
	SynthesizeDelay time.Duration

	// ModerationResult is returned by Moderate.
	ModerationResult provider.Moderation

	// ModerateErr, if non-nil, is returned by Moderate.
	ModerateErr error

	// Models is returned by ListModels.
	Models []string

	// ListModelsErr, if non-nil, is returned by ListModels.
	ListModelsErr error

	// --- Call records ---

	transcribeCalls []TranscribeCall
	chatCalls       []ChatCall
	synthesizeCalls []SynthesizeCall
}

// Transcribe implements [provider.Adapter].
func (a *Adapter) Transcribe(_ context.Context, audio []byte, filename string) (string, error) {
	a.mu.Lock()
	a.transcribeCalls = append(a.transcribeCalls, TranscribeCall{Audio: audio, Filename: filename})
	a.mu.Unlock()
	return a.TranscribeText, a.TranscribeErr
}

// Chat implements [provider.Adapter].
func (a *Adapter) Chat(_ context.Context, req provider.ChatRequest) (string, error) {
	a.mu.Lock()
	a.chatCalls = append(a.chatCalls, ChatCall{Req: req})
	a.mu.Unlock()
	return a.ChatText, a.ChatErr
}

// ChatStream implements [provider.Adapter].
func (a *Adapter) ChatStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.Token, error) {
	a.mu.Lock()
	a.chatCalls = append(a.chatCalls, ChatCall{Req: req, Streaming: true})
	tokens := a.StreamTokens
	delay := a.StreamTokenDelay
	tailErr := a.StreamTailErr
	a.mu.Unlock()

	if a.ChatErr != nil {
		return nil, a.ChatErr
	}

	ch := make(chan provider.Token)
	go func() {
		defer close(ch)
		for _, text := range tokens {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- provider.Token{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if tailErr != nil {
			select {
			case ch <- provider.Token{Err: tailErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Synthesize implements [provider.Adapter].
func (a *Adapter) Synthesize(ctx context.Context, text string) ([]byte, error) {
	a.mu.Lock()
	a.synthesizeCalls = append(a.synthesizeCalls, SynthesizeCall{Text: text})
	delay := a.SynthesizeDelay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.SynthesizeAudio, a.SynthesizeErr
}

// Moderate implements [provider.Adapter].
func (a *Adapter) Moderate(context.Context, string) (provider.Moderation, error) {
	return a.ModerationResult, a.ModerateErr
}

// ListModels implements [provider.Adapter].
func (a *Adapter) ListModels(context.Context) ([]string, error) {
	return a.Models, a.ListModelsErr
}

// TranscribeCalls returns a copy of the recorded Transcribe invocations.
func (a *Adapter) TranscribeCalls() []TranscribeCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TranscribeCall, len(a.transcribeCalls))
	copy(out, a.transcribeCalls)
	return out
}

// ChatCalls returns a copy of the recorded Chat and ChatStream invocations.
func (a *Adapter) ChatCalls() []ChatCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ChatCall, len(a.chatCalls))
	copy(out, a.chatCalls)
	return out
}

// SynthesizeCalls returns a copy of the recorded Synthesize invocations.
func (a *Adapter) SynthesizeCalls() []SynthesizeCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SynthesizeCall, len(a.synthesizeCalls))
	copy(out, a.synthesizeCalls)
	return out
}
