package config_test

import (
	"strings"
	"testing"

	"github.com/voxwire/voxwire/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("ListenAddr: want %q, got %q", config.DefaultListenAddr, cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel: want info, got %q", cfg.Server.LogLevel)
	}
	if cfg.Provider.BaseURL != config.DefaultBaseURL {
		t.Errorf("BaseURL: want %q, got %q", config.DefaultBaseURL, cfg.Provider.BaseURL)
	}
	if cfg.Provider.ChatModel != config.DefaultChatModel {
		t.Errorf("ChatModel: want %q, got %q", config.DefaultChatModel, cfg.Provider.ChatModel)
	}
	if cfg.Pipeline.ChunkRate != config.DefaultChunkRate {
		t.Errorf("ChunkRate: want %v, got %v", config.DefaultChunkRate, cfg.Pipeline.ChunkRate)
	}
	if cfg.Pipeline.TTSWorkers != config.DefaultTTSWorkers {
		t.Errorf("TTSWorkers: want %d, got %d", config.DefaultTTSWorkers, cfg.Pipeline.TTSWorkers)
	}
}

func TestLoadFromReader_FileValues(t *testing.T) {
	const yml = `
server:
  listen_addr: ":9000"
  log_level: debug
provider:
  chat_model: gpt-4o
  voice: nova
pipeline:
  tts_workers: 2
  in_order_audio: true
`
	cfg, err := config.LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr: want :9000, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Provider.ChatModel != "gpt-4o" {
		t.Errorf("ChatModel: want gpt-4o, got %q", cfg.Provider.ChatModel)
	}
	if cfg.Provider.Voice != "nova" {
		t.Errorf("Voice: want nova, got %q", cfg.Provider.Voice)
	}
	if cfg.Pipeline.TTSWorkers != 2 {
		t.Errorf("TTSWorkers: want 2, got %d", cfg.Pipeline.TTSWorkers)
	}
	if !cfg.Pipeline.InOrderAudio {
		t.Error("InOrderAudio: want true")
	}
}

func TestLoadFromReader_EnvOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-env")
	t.Setenv("PORT", "8088")
	t.Setenv("TTS_VOICE", "shimmer")

	const yml = `
provider:
  api_key: sk-from-file
  voice: alloy
`
	cfg, err := config.LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test-env" {
		t.Errorf("APIKey: env must win, got %q", cfg.Provider.APIKey)
	}
	if cfg.Server.ListenAddr != ":8088" {
		t.Errorf("ListenAddr: want :8088, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Provider.Voice != "shimmer" {
		t.Errorf("Voice: want shimmer, got %q", cfg.Provider.Voice)
	}
}

func TestLoadFromReader_InvalidLogLevel(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: shout\n"))
	if err == nil {
		t.Fatal("LoadFromReader: want error for invalid log level")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("serverz:\n  listen_addr: ':1'\n"))
	if err == nil {
		t.Fatal("LoadFromReader: want error for unknown top-level field")
	}
}
