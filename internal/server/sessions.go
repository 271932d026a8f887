package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/swefoundry/agentd/internal/pty"
	"github.com/swefoundry/agentd/internal/registry"
)

// writeSessionError maps registry and spawn errors to HTTP statuses:
// unknown ids are 404, closed sessions are 409, bad spawn or resize
// parameters are 400.
func writeSessionError(w http.ResponseWriter, err error) {
	var spawnErr *pty.SpawnError
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, registry.ErrSessionNotRunning):
		writeError(w, http.StatusConflict, "session not running")
	case errors.Is(err, pty.ErrRowsTooLarge):
		writeError(w, http.StatusBadRequest, "%v", err)
	case errors.As(err, &spawnErr):
		writeError(w, http.StatusBadRequest, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Command string `json:"command"`
		Cwd     string `json:"cwd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.registry.Create(body.Name, body.Command, body.Cwd)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// handleListSessions handles GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.registry.ListActive(),
	})
}

// handleGetSession handles GET /api/sessions/{id}. Closed sessions resolve
// from the archive so their metadata stays reachable after teardown.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := s.registry.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, sess.Snapshot())
		return
	}
	if !errors.Is(err, registry.ErrSessionNotRunning) {
		writeSessionError(w, err)
		return
	}

	rec, err := s.store.GetSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleSessionArchive handles GET /api/sessions/archive with optional
// status, limit and offset query parameters. status defaults to closed.
func (s *Server) handleSessionArchive(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "closed"
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, total, err := s.store.Archive(status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.PathValue("id")); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleResizeSession handles POST /api/sessions/{id}/resize. The same
// operation is available in-band as a control frame; this endpoint serves
// clients that keep no socket open.
func (s *Server) handleResizeSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Cols <= 0 || body.Rows <= 0 {
		writeError(w, http.StatusBadRequest, "cols and rows must be positive")
		return
	}

	if err := s.registry.Resize(r.PathValue("id"), body.Cols, body.Rows); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleInjectSession handles POST /api/sessions/{id}/inject. Delivery may
// block until the session is old enough to receive input.
func (s *Server) handleInjectSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.registry.Inject(r.Context(), r.PathValue("id"), body.Text); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// queryInt parses an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
