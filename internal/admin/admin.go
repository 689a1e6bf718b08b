// Package admin serves the REST management surface: service status, the
// settings store, credential checks, conversation history, the event log,
// and a soft restart that re-reads credentials from the environment.
//
// Every response uses the envelope {status, message, data?, code?}.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/provider"
	"github.com/voxwire/voxwire/internal/settings"
	"github.com/voxwire/voxwire/internal/store"
	"github.com/voxwire/voxwire/internal/ws"
)

// Default page sizes for the history endpoints.
const (
	DefaultConversationLimit = 100
	DefaultLogLimit          = 200
)

// testKeyTimeout bounds the upstream call made by the test-api-key endpoint.
const testKeyTimeout = 10 * time.Second

// Config wires a [Server] to the rest of the process.
type Config struct {
	// Store persists settings, conversations, and the event log.
	Store store.Store

	// Settings is the process-wide settings cache.
	Settings *settings.Cache

	// Hub supplies session counts and per-session metrics. May be nil in
	// tests.
	Hub *ws.Hub

	// Provider is the swappable adapter updated on credential changes.
	Provider *provider.Switchable

	// ProviderConfig is the current provider configuration. The server keeps
	// its own mutable copy.
	ProviderConfig config.ProviderConfig

	// NewAdapter builds an adapter from a provider configuration. Used by
	// restart, credential updates, and test-api-key.
	NewAdapter func(config.ProviderConfig) provider.Adapter

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server implements the admin HTTP surface.
type Server struct {
	log        *slog.Logger
	store      store.Store
	cache      *settings.Cache
	hub        *ws.Hub
	sw         *provider.Switchable
	newAdapter func(config.ProviderConfig) provider.Adapter
	started    time.Time

	mu   sync.Mutex
	pcfg config.ProviderConfig
}

// New returns a Server ready to be registered on a mux.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		log:        cfg.Logger,
		store:      cfg.Store,
		cache:      cfg.Settings,
		hub:        cfg.Hub,
		sw:         cfg.Provider,
		newAdapter: cfg.NewAdapter,
		started:    time.Now(),
		pcfg:       cfg.ProviderConfig,
	}
}

// Register adds the admin routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/status", s.handleStatus)
	mux.HandleFunc("GET /api/admin/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/admin/settings", s.handlePostSettings)
	mux.HandleFunc("POST /api/admin/test-api-key", s.handleTestAPIKey)
	mux.HandleFunc("GET /api/admin/conversations", s.handleGetConversations)
	mux.HandleFunc("DELETE /api/admin/conversations", s.handleClearConversations)
	mux.HandleFunc("GET /api/admin/logs", s.handleGetLogs)
	mux.HandleFunc("POST /api/admin/restart", s.handleRestart)
	mux.HandleFunc("POST /api/admin/system/restart", s.handleRestart)
}

// envelope is the uniform response shape.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, envelope{Status: "error", Message: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cache.Snapshot(r.Context())
	if err != nil {
		s.log.Warn("settings snapshot failed", "error", err)
		snap = map[string]string{}
	}

	s.mu.Lock()
	preview := keyPreview(s.pcfg.APIKey)
	s.mu.Unlock()

	data := map[string]any{
		"openai_configured": s.sw.Configured(),
		"api_key_preview":   preview,
		"settings":          snap,
		"uptime_s":          int(time.Since(s.started).Seconds()),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	}
	if s.hub != nil {
		data["active_sessions"] = s.hub.SessionCount()
		data["sessions"] = s.hub.Metrics()
	}
	writeOK(w, "service status", data)
}

// keyPreview returns a redacted form of the API key for display.
func keyPreview(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 10 {
		return key[:1] + "..."
	}
	return key[:10] + "..."
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	merged, err := s.effectiveSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable: "+err.Error())
		return
	}
	writeOK(w, "current settings", merged)
}

// effectiveSettings merges stored values over the resolved defaults, so the
// client always sees every recognized key.
func (s *Server) effectiveSettings(ctx context.Context) (map[string]string, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	pcfg := s.pcfg
	s.mu.Unlock()

	merged := map[string]string{
		settings.KeyTier:         string(s.cache.Tier(ctx)),
		settings.KeyChatModel:    s.cache.ChatModel(ctx),
		settings.KeyTTSModel:     s.cache.TTSModel(ctx, pcfg.TTSModel),
		settings.KeyVoiceName:    s.cache.Voice(ctx, pcfg.Voice),
		settings.KeyMaxTokens:    strconv.Itoa(s.cache.MaxTokens(ctx)),
		settings.KeyTemperature:  strconv.FormatFloat(s.cache.Temperature(ctx), 'g', -1, 64),
		settings.KeySystemPrompt: s.cache.SystemPrompt(ctx),
	}
	maps.Copy(merged, snap)
	return merged, nil
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var in map[string]string
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(in) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	rebuild := false
	for key, value := range in {
		switch key {
		case "openai_api_key":
			s.mu.Lock()
			s.pcfg.APIKey = value
			s.mu.Unlock()
			rebuild = true
		case "openai_base_url":
			s.mu.Lock()
			s.pcfg.BaseURL = value
			s.mu.Unlock()
			rebuild = true
		case settings.KeyTTSModel, settings.KeyVoiceName:
			// The adapter binds synthesis model and voice at construction, so
			// these persist like any setting and also force a rebuild.
			if err := s.cache.Set(r.Context(), key, value); err != nil {
				writeError(w, http.StatusInternalServerError, "store settings: "+err.Error())
				return
			}
			s.mu.Lock()
			if key == settings.KeyTTSModel {
				s.pcfg.TTSModel = value
			} else {
				s.pcfg.Voice = value
			}
			s.mu.Unlock()
			rebuild = true
		default:
			if err := s.cache.Set(r.Context(), key, value); err != nil {
				writeError(w, http.StatusInternalServerError, "store settings: "+err.Error())
				return
			}
		}
	}
	if rebuild {
		s.swapAdapter()
	}

	merged, err := s.effectiveSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable: "+err.Error())
		return
	}
	writeOK(w, "settings updated", merged)
}

// swapAdapter rebuilds the provider adapter from the current configuration.
func (s *Server) swapAdapter() {
	s.mu.Lock()
	pcfg := s.pcfg
	s.mu.Unlock()

	s.sw.Swap(s.newAdapter(pcfg), pcfg.APIKey != "")
	s.log.Info("provider adapter replaced", "configured", pcfg.APIKey != "")
}

func (s *Server) handleTestAPIKey(w http.ResponseWriter, r *http.Request) {
	var in struct {
		APIKey string `json:"api_key"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&in)
	}

	s.mu.Lock()
	pcfg := s.pcfg
	s.mu.Unlock()
	if in.APIKey != "" {
		pcfg.APIKey = in.APIKey
	}
	if pcfg.APIKey == "" {
		writeOK(w, "no api key to test", map[string]any{"valid": false, "error": "no api key configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), testKeyTimeout)
	defer cancel()

	models, err := s.newAdapter(pcfg).ListModels(ctx)
	if err != nil {
		writeOK(w, "api key check failed", map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeOK(w, "api key is valid", map[string]any{"valid": true, "models_count": len(models)})
}

func (s *Server) handleGetConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, DefaultConversationLimit)
	rows, err := s.store.Conversations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load conversations: "+err.Error())
		return
	}
	writeOK(w, "conversation history", map[string]any{
		"conversations": rows,
		"count":         len(rows),
	})
}

func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearConversations(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clear conversations: "+err.Error())
		return
	}
	writeOK(w, "conversations cleared", nil)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, DefaultLogLimit)
	rows, err := s.store.Logs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load logs: "+err.Error())
		return
	}
	writeOK(w, "event log", map[string]any{
		"logs":  rows,
		"count": len(rows),
	})
}

// handleRestart re-reads provider credentials from the environment and swaps
// in a fresh adapter. The process itself keeps running.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.pcfg.RefreshCredentials()
	configured := s.pcfg.APIKey != ""
	s.mu.Unlock()

	s.swapAdapter()
	_ = s.store.AppendLog(context.WithoutCancel(r.Context()), "info", "credentials refreshed from environment")

	writeOK(w, "credentials refreshed", map[string]any{
		"openai_configured": configured,
	})
}

func queryLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
