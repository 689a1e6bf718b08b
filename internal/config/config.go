// Package config provides the configuration schema, loader, and cost-tier
// tables for the voxwire voice assistant server.
package config

import "time"

// LogLevel controls log verbosity for the voxwire server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader]
// and then overlaid with environment variables via [ApplyEnv].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds network and logging settings for the voxwire server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8001").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigins is the comma-separated list of allowed origins for the
	// admin surface and WebSocket upgrades. "*" allows any origin.
	CORSOrigins string `yaml:"cors_origins"`
}

// ProviderConfig holds credentials and model selections for the upstream
// model provider. All fields can be overridden from the environment.
type ProviderConfig struct {
	// APIKey authenticates against the provider. When empty the server runs
	// in a degraded mode: partial transcription is disabled and utterances
	// receive a fixed configuration hint instead of a model response.
	APIKey string `yaml:"api_key"`

	// BaseURL is the provider API root. Defaults to the OpenAI public API.
	BaseURL string `yaml:"base_url"`

	// STTModel selects the transcription model (e.g., "whisper-1").
	STTModel string `yaml:"stt_model"`

	// ChatModel selects the default chat completion model. The settings
	// store's "tier" key may override this per utterance (see [Tier]).
	ChatModel string `yaml:"chat_model"`

	// TTSModel selects the speech synthesis model (e.g., "tts-1").
	TTSModel string `yaml:"tts_model"`

	// Voice is the default synthesis voice name (e.g., "alloy").
	Voice string `yaml:"voice"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the settings,
	// conversation, and event-log tables. When empty, an in-memory store is
	// used and nothing survives a restart.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PipelineConfig tunes the per-connection audio pipeline. Zero values are
// replaced with defaults by [Validate].
type PipelineConfig struct {
	// ChunkRate is the sustained inbound audio-chunk admission rate in
	// chunks per second. Matches the client's 250 ms chunk cadence.
	ChunkRate float64 `yaml:"chunk_rate"`

	// ChunkBurst is the token-bucket capacity for inbound audio chunks.
	ChunkBurst int `yaml:"chunk_burst"`

	// BufferChunks caps the per-session inbound audio buffer. Oldest chunks
	// are dropped on overflow. 160 chunks is roughly 40 s of audio.
	BufferChunks int `yaml:"buffer_chunks"`

	// PartialWindowChunks is the rolling-window size for incremental
	// transcription, in chunks (6 chunks ≈ 1.5 s).
	PartialWindowChunks int `yaml:"partial_window_chunks"`

	// PartialPrerollChunks is the pre-roll ring size for the partial
	// transcription pipeline.
	PartialPrerollChunks int `yaml:"partial_preroll_chunks"`

	// PartialMinInterval is the minimum interval between partial
	// transcription emissions.
	PartialMinInterval time.Duration `yaml:"partial_min_interval"`

	// TTSWorkers is the size of the process-wide synthesis worker pool.
	TTSWorkers int `yaml:"tts_workers"`

	// InOrderAudio buffers synthesized audio chunks and releases them in
	// sequence order instead of completion order. Completion order is the
	// default because it yields the lowest first-audio latency.
	InOrderAudio bool `yaml:"in_order_audio"`

	// Moderation enables input/output moderation via the provider's
	// moderation endpoint. Moderation failures are fail-open.
	Moderation bool `yaml:"moderation"`
}

// Defaults applied by [Validate] and [ApplyEnv].
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultSTTModel  = "whisper-1"
	DefaultChatModel = "gpt-4o-mini"
	DefaultTTSModel  = "tts-1"
	DefaultVoice     = "alloy"

	DefaultListenAddr  = ":8001"
	DefaultCORSOrigins = "*"

	DefaultChunkRate            = 4.0
	DefaultChunkBurst           = 8
	DefaultBufferChunks         = 160
	DefaultPartialWindowChunks  = 6
	DefaultPartialPrerollChunks = 5
	DefaultPartialMinInterval   = 500 * time.Millisecond
	DefaultTTSWorkers           = 4
)
