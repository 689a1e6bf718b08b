package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/pipeline"
	"github.com/voxwire/voxwire/internal/provider"
	"github.com/voxwire/voxwire/internal/settings"
	"github.com/voxwire/voxwire/internal/store"
)

// DefaultHeartbeat is the interval between server_heartbeat events.
const DefaultHeartbeat = 30 * time.Second

// HubConfig wires a [Hub] to the rest of the server.
type HubConfig struct {
	// Adapter is the upstream provider, shared by all sessions.
	Adapter provider.Adapter

	// Configured reports whether real provider credentials are present.
	// Checked per utterance, so a credential refresh takes effect on live
	// sessions. Nil means always configured.
	Configured func() bool

	// Orchestrator runs the response pipeline for every utterance.
	Orchestrator *pipeline.Orchestrator

	// Store persists conversation turns and event-log rows.
	Store store.Store

	// Settings supplies the cost tier for conversation cost accounting.
	Settings *settings.Cache

	// Pipeline tunes per-session admission and buffering. Zero fields take
	// the config package defaults.
	Pipeline config.PipelineConfig

	// CORSOrigins is the comma-separated allowed-origin list. "*" disables
	// the origin check.
	CORSOrigins string

	// Heartbeat overrides [DefaultHeartbeat]. Tests shorten it.
	Heartbeat time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (c *HubConfig) applyDefaults() {
	if c.Configured == nil {
		c.Configured = func() bool { return true }
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Pipeline.ChunkRate <= 0 {
		c.Pipeline.ChunkRate = config.DefaultChunkRate
	}
	if c.Pipeline.ChunkBurst <= 0 {
		c.Pipeline.ChunkBurst = config.DefaultChunkBurst
	}
	if c.Pipeline.BufferChunks <= 0 {
		c.Pipeline.BufferChunks = config.DefaultBufferChunks
	}
	if c.Pipeline.PartialWindowChunks <= 0 {
		c.Pipeline.PartialWindowChunks = config.DefaultPartialWindowChunks
	}
	if c.Pipeline.PartialPrerollChunks <= 0 {
		c.Pipeline.PartialPrerollChunks = config.DefaultPartialPrerollChunks
	}
	if c.Pipeline.PartialMinInterval <= 0 {
		c.Pipeline.PartialMinInterval = config.DefaultPartialMinInterval
	}
}

// Hub accepts WebSocket upgrades and owns the session registry. It
// implements http.Handler; mount it at /socket.io/.
type Hub struct {
	cfg HubConfig
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
	wg       sync.WaitGroup
}

// NewHub returns a Hub ready to accept connections.
func NewHub(cfg HubConfig) *Hub {
	cfg.applyDefaults()
	return &Hub{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request and services the session until disconnect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Debug("websocket accept failed", "error", err)
		return
	}

	id := uuid.NewString()
	sess := newSession(h, id, conn)
	if !h.register(sess) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	metrics := observe.DefaultMetrics()
	metrics.ActiveSessions.Add(r.Context(), 1)
	h.log.Info("session connected", "session_id", id, "remote", r.RemoteAddr)

	sess.run(r.Context())

	h.unregister(id)
	metrics.ActiveSessions.Add(context.WithoutCancel(r.Context()), -1)
	h.log.Info("session closed", "session_id", id)
}

func (h *Hub) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range strings.Split(h.cfg.CORSOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
		if origin != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, origin)
		}
	}
	return opts
}

func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.sessions[s.id] = s
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every session and waits for their handlers to return, or
// until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	for _, s := range open {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Metrics returns a snapshot of every connected session's counters for the
// admin status surface.
func (h *Hub) Metrics() []MetricsSnapshot {
	h.mu.Lock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	out := make([]MetricsSnapshot, 0, len(open))
	for _, s := range open {
		out = append(out, s.Snapshot())
	}
	return out
}
