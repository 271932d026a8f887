// Package server exposes the HTTP and WebSocket surface of agentd.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/swefoundry/agentd/internal/config"
	"github.com/swefoundry/agentd/internal/registry"
	"github.com/swefoundry/agentd/internal/store"
	"github.com/swefoundry/agentd/internal/sysinfo"
)

// Server routes API requests to the registry and store.
type Server struct {
	config     *config.Config
	registry   *registry.Registry
	store      *store.Store
	sysinfo    *sysinfo.Collector
	httpServer *http.Server
}

// New creates a server wired to the given registry and store.
func New(cfg *config.Config, reg *registry.Registry, st *store.Store) *Server {
	s := &Server{
		config:   cfg,
		registry: reg,
		store:    st,
		sysinfo:  sysinfo.NewCollector("/", 5*time.Second),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	// WriteTimeout stays 0: it would arm a net.Conn deadline before the
	// handler runs, which kills hijacked WebSocket connections.
	s.httpServer = &http.Server{
		Addr:        cfg.Addr(),
		Handler:     corsMiddleware(mux, cfg.AllowedOrigins),
		ReadTimeout: cfg.HTTPReadTimeout,
		IdleTimeout: cfg.HTTPIdleTimeout,
	}

	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Sessions
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/archive", s.handleSessionArchive)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/resize", s.handleResizeSession)
	mux.HandleFunc("POST /api/sessions/{id}/inject", s.handleInjectSession)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleSessionWS)

	// Projects
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("PATCH /api/projects/{id}", s.handleUpdateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("GET /api/projects/{id}/activity", s.handleProjectActivity)

	// Read-only git inspection for a project's working tree
	mux.HandleFunc("GET /api/projects/{id}/git/status", s.handleGitStatus)
	mux.HandleFunc("GET /api/projects/{id}/git/log", s.handleGitLog)
	mux.HandleFunc("GET /api/projects/{id}/git/branches", s.handleGitBranches)
	mux.HandleFunc("GET /api/projects/{id}/git/diff", s.handleGitDiff)

	// Tickets
	mux.HandleFunc("POST /api/tickets", s.handleCreateTicket)
	mux.HandleFunc("GET /api/tickets", s.handleListTickets)
	mux.HandleFunc("GET /api/tickets/{id}", s.handleGetTicket)
	mux.HandleFunc("PATCH /api/tickets/{id}", s.handleUpdateTicket)
	mux.HandleFunc("DELETE /api/tickets/{id}", s.handleDeleteTicket)
	mux.HandleFunc("POST /api/tickets/{id}/assign", s.handleAssignTicket)

	// Project memory notes
	mux.HandleFunc("POST /api/project-memory", s.handleCreateMemory)
	mux.HandleFunc("GET /api/project-memory", s.handleListMemory)
	mux.HandleFunc("PATCH /api/project-memory/{id}", s.handleUpdateMemory)
	mux.HandleFunc("DELETE /api/project-memory/{id}", s.handleDeleteMemory)

	// Filesystem browser for picking project directories
	mux.HandleFunc("GET /api/fs/list", s.handleFSList)

	// Host metrics for the dashboard
	mux.HandleFunc("GET /api/system", s.handleSystem)
}

// handleSystem reports host load, memory and disk from procfs.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sysinfo.Collect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth reports liveness and basic load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": len(s.registry.ListActive()),
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	slog.Info("starting agentd", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server. Live sessions are left running;
// their processes survive an agentd restart and the archive reconciles on
// the next startup.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// corsMiddleware adds CORS headers for allowed origins. WebSocket upgrades
// bypass CORS entirely and are validated separately in the upgrader.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, allowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed checks origin against the allow list. Supports "*" and
// wildcard subdomain patterns like "https://*.example.com".
func originAllowed(origin string, allowed []string) bool {
	for _, pattern := range allowed {
		if pattern == "*" || pattern == origin {
			return true
		}
		if strings.Contains(pattern, "*") && matchWildcardOrigin(origin, pattern) {
			return true
		}
	}
	return false
}

// matchWildcardOrigin matches "https://foo.example.com" against
// "https://*.example.com". The wildcard part must not span a "/".
func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}
