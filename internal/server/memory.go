package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swefoundry/agentd/internal/store"
)

// handleCreateMemory handles POST /api/project-memory.
func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string `json:"project_id"`
		Type      string `json:"type"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	mem, err := s.store.CreateMemory(body.ProjectID, body.Type, body.Content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, mem)
}

// handleListMemory handles GET /api/project-memory?project_id=...
func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	notes, err := s.store.ListMemory(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memory": notes})
}

// handleUpdateMemory handles PATCH /api/project-memory/{id}. Absent fields
// are left unchanged.
func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var upd store.MemoryUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mem, err := s.store.UpdateMemory(r.PathValue("id"), upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

// handleDeleteMemory handles DELETE /api/project-memory/{id}.
func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMemory(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
