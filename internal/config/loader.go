package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. A missing file is not an
// error: the config then comes entirely from environment variables and
// defaults, which matches how the server is deployed in containers.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. Environment values take
// precedence over file values so that credentials never need to live in the
// config file.
func ApplyEnv(cfg *Config) {
	setIfEnv(&cfg.Provider.APIKey, "OPENAI_API_KEY")
	setIfEnv(&cfg.Provider.BaseURL, "OPENAI_BASE_URL")
	setIfEnv(&cfg.Provider.STTModel, "STT_MODEL")
	setIfEnv(&cfg.Provider.ChatModel, "CHAT_MODEL")
	setIfEnv(&cfg.Provider.TTSModel, "TTS_MODEL")
	setIfEnv(&cfg.Provider.Voice, "TTS_VOICE")
	setIfEnv(&cfg.Store.PostgresDSN, "POSTGRES_DSN")
	setIfEnv(&cfg.Server.CORSOrigins, "CORS_ORIGINS")

	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			cfg.Server.ListenAddr = ":" + port
		}
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Server.LogLevel = LogLevel(lvl)
	}
}

// RefreshCredentials re-reads provider credentials from the environment.
// Used by the admin restart endpoint to pick up rotated keys without a
// process restart.
func (p *ProviderConfig) RefreshCredentials() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		p.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		p.BaseURL = v
	}
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for zero-valued fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	} else if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.CORSOrigins == "" {
		cfg.Server.CORSOrigins = DefaultCORSOrigins
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Provider.STTModel == "" {
		cfg.Provider.STTModel = DefaultSTTModel
	}
	if cfg.Provider.ChatModel == "" {
		cfg.Provider.ChatModel = DefaultChatModel
	}
	if cfg.Provider.TTSModel == "" {
		cfg.Provider.TTSModel = DefaultTTSModel
	}
	if cfg.Provider.Voice == "" {
		cfg.Provider.Voice = DefaultVoice
	}

	p := &cfg.Pipeline
	if p.ChunkRate <= 0 {
		p.ChunkRate = DefaultChunkRate
	}
	if p.ChunkBurst <= 0 {
		p.ChunkBurst = DefaultChunkBurst
	}
	if p.BufferChunks <= 0 {
		p.BufferChunks = DefaultBufferChunks
	}
	if p.PartialWindowChunks <= 0 {
		p.PartialWindowChunks = DefaultPartialWindowChunks
	}
	if p.PartialPrerollChunks <= 0 {
		p.PartialPrerollChunks = DefaultPartialPrerollChunks
	}
	if p.PartialMinInterval <= 0 {
		p.PartialMinInterval = DefaultPartialMinInterval
	}
	if p.TTSWorkers <= 0 {
		p.TTSWorkers = DefaultTTSWorkers
	}

	return errors.Join(errs...)
}

// setIfEnv assigns the value of the environment variable key to dst when the
// variable is set and non-empty.
func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
