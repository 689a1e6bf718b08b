// Package health provides the HTTP health and readiness handlers.
//
// Liveness is served at /health and /api/health: a 200 with the WebSocket
// path, so clients can discover where to connect. Readiness is served at
// /readyz and evaluates the registered [Checker] functions (store ping,
// provider credentials).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// DefaultWSPath is the WebSocket mount point advertised by the liveness
// response.
const DefaultWSPath = "/socket.io/"

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "store", "provider").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// liveness is the JSON body for /health and /api/health.
type liveness struct {
	Status string `json:"status"`
	WS     string `json:"ws"`
}

// readiness is the JSON body for /readyz.
type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	wsPath   string
	checkers []Checker
}

// New creates a Handler advertising wsPath (empty means [DefaultWSPath]) and
// evaluating the given checkers, in order, on each /readyz request.
func New(wsPath string, checkers ...Checker) *Handler {
	if wsPath == "" {
		wsPath = DefaultWSPath
	}
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{wsPath: wsPath, checkers: c}
}

// Health is the liveness probe. A process that can serve HTTP is alive; the
// response carries the WebSocket path for client discovery.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{Status: "ok", WS: h.wsPath})
}

// Readyz returns 200 only when every registered [Checker] passes. Each
// checker runs with a [checkTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := readiness{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code. On encoding
// failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
