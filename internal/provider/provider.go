// Package provider defines the upstream AI provider contract used by the
// voice pipeline: transcription, chat completion (batch and streaming),
// speech synthesis, and moderation.
//
// The openai subpackage implements the contract against an OpenAI-compatible
// API; the mock subpackage provides a scriptable implementation for tests.
package provider

import "context"

// Message is one chat message.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatRequest describes one chat completion call.
type ChatRequest struct {
	// Model is the chat model identifier. Empty uses the adapter's default.
	Model string

	// Messages is the full prompt, system message first.
	Messages []Message

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Temperature is the sampling temperature. Zero means provider default.
	Temperature float64
}

// Token is one element of a streamed chat completion. A Token carries either
// text or a terminal error; after an error the channel is closed.
type Token struct {
	Text string
	Err  error
}

// Moderation is the outcome of a moderation check.
type Moderation struct {
	// Flagged reports whether the input violates the provider's policy.
	Flagged bool

	// Categories lists the violated category names when Flagged is true.
	Categories []string
}

// Adapter is the upstream provider contract. All methods honour ctx
// cancellation and apply the adapter's own request timeout. Implementations
// must be safe for concurrent use: the TTS pool calls Synthesize from
// multiple goroutines.
type Adapter interface {
	// Transcribe converts audio (a complete container such as WAV or WebM)
	// to text. A failed or non-2xx upstream call yields an error; callers
	// treat that as an empty transcript.
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)

	// Chat performs a batch chat completion and returns the full reply.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// ChatStream starts a streaming chat completion. Tokens arrive on the
	// returned channel in order; the channel is closed after the final token
	// or a terminal [Token.Err]. Cancelling ctx stops the stream.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan Token, error)

	// Synthesize converts text to audio and returns the encoded bytes.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Moderate checks text against the provider's content policy.
	Moderate(ctx context.Context, text string) (Moderation, error)

	// ListModels returns the model identifiers visible to the configured
	// credentials. Used to verify an API key.
	ListModels(ctx context.Context) ([]string, error)
}
