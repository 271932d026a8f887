package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/swefoundry/agentd/internal/store"
)

// handleCreateTicket handles POST /api/tickets.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID       string `json:"project_id"`
		Title           string `json:"title"`
		Description     string `json:"description"`
		SuccessCriteria string `json:"success_criteria"`
		BranchName      string `json:"branch_name"`
		WorktreePath    string `json:"worktree_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ticket, err := s.store.CreateTicket(body.ProjectID, body.Title,
		body.Description, body.SuccessCriteria, body.BranchName, body.WorktreePath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
		} else {
			writeError(w, http.StatusBadRequest, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// handleListTickets handles GET /api/tickets with an optional project_id
// filter.
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.store.ListTickets(r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

// handleGetTicket handles GET /api/tickets/{id}.
func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.store.GetTicket(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleUpdateTicket handles PATCH /api/tickets/{id}.
func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var upd store.TicketUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ticket, err := s.store.UpdateTicket(r.PathValue("id"), upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleDeleteTicket handles DELETE /api/tickets/{id}.
func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTicket(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAssignTicket handles POST /api/tickets/{id}/assign. Assignment
// records the session on the ticket, moves it to in_progress and injects
// the briefing into the session's terminal. The response does not wait for
// delivery; injection failures are logged, never retried.
func (s *Server) handleAssignTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if _, err := s.registry.Get(body.SessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	ticket, err := s.store.AssignTicket(r.PathValue("id"), body.SessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	go s.injectBriefing(ticket, body.SessionID)

	writeJSON(w, http.StatusOK, ticket)
}

// injectBriefing delivers the ticket briefing to the assigned session.
// Runs detached from the assign request; delivery may block until the
// session is old enough to receive input.
func (s *Server) injectBriefing(ticket *store.Ticket, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.registry.Inject(ctx, sessionID, ticketBriefing(ticket)); err != nil {
		slog.Error("ticket briefing injection failed",
			"ticket_id", ticket.ID, "session_id", sessionID, "error", err)
		s.store.LogActivity(ticket.ProjectID, "ticket", ticket.ID, "briefing_failed",
			map[string]any{"session_id": sessionID, "error": err.Error()})
		return
	}
	s.store.LogActivity(ticket.ProjectID, "ticket", ticket.ID, "briefing_injected",
		map[string]any{"session_id": sessionID})
}

// ticketBriefing renders the text typed into a session when a ticket is
// assigned to it. Comment-prefixed lines keep a shell prompt from trying
// to execute the metadata.
func ticketBriefing(ticket *store.Ticket) string {
	text := "# Ticket assignment\n"
	text += fmt.Sprintf("# Please create/checkout branch: %s\n", ticket.BranchName)
	text += fmt.Sprintf("# Suggested worktree path: %s\n", ticket.WorktreePath)
	text += ticket.Description
	return text
}
