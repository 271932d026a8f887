package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Ticket statuses.
const (
	TicketPending    = "pending"
	TicketInProgress = "in_progress"
	TicketDone       = "done"
)

// Ticket is a unit of work that can be assigned to a running session.
type Ticket struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	SuccessCriteria string `json:"success_criteria"`
	Status          string `json:"status"`
	BranchName      string `json:"branch_name,omitempty"`
	WorktreePath    string `json:"worktree_path,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// TicketUpdate carries the mutable ticket fields; nil means unchanged.
type TicketUpdate struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	SuccessCriteria *string `json:"success_criteria"`
	Status          *string `json:"status"`
	SessionID       *string `json:"session_id"`
	BranchName      *string `json:"branch_name"`
	WorktreePath    *string `json:"worktree_path"`
}

// CreateTicket inserts a pending ticket. A missing branch name defaults to
// ticket-<id prefix>-<title slug>; a missing worktree path defaults to
// <project>/.worktrees/<branch>.
func (s *Store) CreateTicket(projectID, title, description, successCriteria, branch, worktree string) (*Ticket, error) {
	project, err := s.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}

	id := uuid.NewString()
	if branch == "" {
		branch = fmt.Sprintf("ticket-%s-%s", id[:8], Slugify(title))
	}
	if worktree == "" {
		worktree = filepath.Join(project.Path, ".worktrees", branch)
	}

	now := nowUTC()
	_, err = s.db.Exec(
		`INSERT INTO tickets (id, project_id, title, description, success_criteria, status, branch_name, worktree_path, session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		id, projectID, title, description, successCriteria, TicketPending, branch, worktree, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	s.LogActivity(projectID, "ticket", id, "create", map[string]any{"title": title})
	return s.GetTicket(id)
}

// GetTicket fetches one ticket.
func (s *Store) GetTicket(id string) (*Ticket, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, title, description, success_criteria, status, branch_name, worktree_path, session_id
		 FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns tickets, newest first, optionally filtered by project.
func (s *Store) ListTickets(projectID string) ([]Ticket, error) {
	query := `SELECT id, project_id, title, description, success_criteria, status, branch_name, worktree_path, session_id
	          FROM tickets`
	args := []any{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// UpdateTicket applies the non-nil fields of upd.
func (s *Store) UpdateTicket(id string, upd TicketUpdate) (*Ticket, error) {
	current, err := s.GetTicket(id)
	if err != nil {
		return nil, err
	}

	set := []string{}
	args := []any{}
	addField := func(column string, value any) {
		set = append(set, column+" = ?")
		args = append(args, value)
	}

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, fmt.Errorf("title cannot be empty")
		}
		addField("title", title)
	}
	if upd.Description != nil {
		addField("description", *upd.Description)
	}
	if upd.SuccessCriteria != nil {
		addField("success_criteria", *upd.SuccessCriteria)
	}
	if upd.Status != nil {
		switch *upd.Status {
		case TicketPending, TicketInProgress, TicketDone:
		default:
			return nil, fmt.Errorf("invalid status: %s", *upd.Status)
		}
		addField("status", *upd.Status)
	}
	if upd.SessionID != nil {
		addField("session_id", *upd.SessionID)
	}
	if upd.BranchName != nil {
		addField("branch_name", *upd.BranchName)
	}
	if upd.WorktreePath != nil {
		addField("worktree_path", *upd.WorktreePath)
	}

	if len(set) > 0 {
		addField("updated_at", nowUTC())
		args = append(args, id)
		query := "UPDATE tickets SET " + strings.Join(set, ", ") + " WHERE id = ?"
		if _, err := s.db.Exec(query, args...); err != nil {
			return nil, fmt.Errorf("update ticket: %w", err)
		}
		s.LogActivity(current.ProjectID, "ticket", id, "update", map[string]any{"fields": len(set) - 1})
	}

	return s.GetTicket(id)
}

// DeleteTicket removes a ticket.
func (s *Store) DeleteTicket(id string) error {
	t, err := s.GetTicket(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM tickets WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	s.LogActivity(t.ProjectID, "ticket", id, "delete", nil)
	return nil
}

// AssignTicket binds a ticket to a session and marks it in progress.
func (s *Store) AssignTicket(ticketID, sessionID string) (*Ticket, error) {
	t, err := s.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		"UPDATE tickets SET status = ?, session_id = ?, updated_at = ? WHERE id = ?",
		TicketInProgress, sessionID, nowUTC(), ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("assign ticket: %w", err)
	}
	s.LogActivity(t.ProjectID, "ticket", ticketID, "assign", map[string]any{"session_id": sessionID})
	return s.GetTicket(ticketID)
}

// Slugify lowercases a title into a branch-safe slug, capped at 40 runes.
func Slugify(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		return "ticket"
	}
	return slug
}

func scanTicket(scan func(...any) error) (*Ticket, error) {
	var t Ticket
	var branch, worktree, session sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.SuccessCriteria, &t.Status, &branch, &worktree, &session)
	if err != nil {
		return nil, err
	}
	t.BranchName = branch.String
	t.WorktreePath = worktree.String
	t.SessionID = session.String
	return &t, nil
}
