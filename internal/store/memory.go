package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Memory is a durable note attached to a project: a decision, convention
// or lesson worth carrying across sessions. type is a free-form label.
type Memory struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
}

// MemoryUpdate carries the mutable memory fields; nil means unchanged.
type MemoryUpdate struct {
	Type    *string `json:"type"`
	Content *string `json:"content"`
}

// CreateMemory inserts a memory note for an existing project.
func (s *Store) CreateMemory(projectID, memType, content string) (*Memory, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	memType = strings.TrimSpace(memType)
	if memType == "" {
		return nil, fmt.Errorf("type cannot be empty")
	}

	id := uuid.NewString()
	now := nowUTC()
	_, err := s.db.Exec(
		`INSERT INTO project_memory (id, project_id, type, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, projectID, memType, content, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	s.LogActivity(projectID, "memory", id, "create", map[string]any{"type": memType})
	return s.GetMemory(id)
}

// GetMemory fetches one memory note.
func (s *Store) GetMemory(id string) (*Memory, error) {
	row := s.db.QueryRow(
		"SELECT id, project_id, type, content FROM project_memory WHERE id = ?", id)
	var m Memory
	err := row.Scan(&m.ID, &m.ProjectID, &m.Type, &m.Content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &m, nil
}

// ListMemory returns a project's memory notes, newest first.
func (s *Store) ListMemory(projectID string) ([]Memory, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, type, content FROM project_memory
		 WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	notes := []Memory{}
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Type, &m.Content); err != nil {
			return nil, err
		}
		notes = append(notes, m)
	}
	return notes, rows.Err()
}

// UpdateMemory applies the non-nil fields of upd.
func (s *Store) UpdateMemory(id string, upd MemoryUpdate) (*Memory, error) {
	current, err := s.GetMemory(id)
	if err != nil {
		return nil, err
	}

	set := []string{}
	args := []any{}
	if upd.Type != nil {
		memType := strings.TrimSpace(*upd.Type)
		if memType == "" {
			return nil, fmt.Errorf("type cannot be empty")
		}
		set = append(set, "type = ?")
		args = append(args, memType)
	}
	if upd.Content != nil {
		set = append(set, "content = ?")
		args = append(args, *upd.Content)
	}

	if len(set) > 0 {
		set = append(set, "updated_at = ?")
		args = append(args, nowUTC(), id)
		query := "UPDATE project_memory SET " + strings.Join(set, ", ") + " WHERE id = ?"
		if _, err := s.db.Exec(query, args...); err != nil {
			return nil, fmt.Errorf("update memory: %w", err)
		}
		s.LogActivity(current.ProjectID, "memory", id, "update", map[string]any{"fields": len(set) - 1})
	}

	return s.GetMemory(id)
}

// DeleteMemory removes a memory note.
func (s *Store) DeleteMemory(id string) error {
	m, err := s.GetMemory(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM project_memory WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	s.LogActivity(m.ProjectID, "memory", id, "delete", nil)
	return nil
}
