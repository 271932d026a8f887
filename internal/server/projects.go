package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swefoundry/agentd/internal/store"
)

// handleCreateProject handles POST /api/projects.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name              string `json:"name"`
		Path              string `json:"path"`
		ProjectGoal       string `json:"project_goal"`
		Constraints       string `json:"constraints"`
		ArchitectureNotes string `json:"architecture_notes"`
		Links             string `json:"links"`
		ReferenceDocs     string `json:"reference_docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	project, err := s.store.CreateProject(body.Name, body.Path,
		body.ProjectGoal, body.Constraints, body.ArchitectureNotes, body.Links, body.ReferenceDocs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// handleListProjects handles GET /api/projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// handleGetProject handles GET /api/projects/{id}.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleUpdateProject handles PATCH /api/projects/{id}. Absent fields are
// left unchanged.
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var upd store.ProjectUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := s.store.UpdateProject(r.PathValue("id"), upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleDeleteProject handles DELETE /api/projects/{id}.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleProjectActivity handles GET /api/projects/{id}/activity.
func (s *Server) handleProjectActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetProject(id); err != nil {
		writeStoreError(w, err)
		return
	}

	entries, err := s.store.ListActivity(id, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

// writeStoreError maps store errors: missing rows are 404, everything else
// is a server fault.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "%v", err)
}
