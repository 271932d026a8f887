package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a project or ticket id does not exist.
var ErrNotFound = errors.New("store: not found")

// Project is a registered working directory with planning context.
type Project struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	ProjectGoal       string `json:"project_goal"`
	Constraints       string `json:"constraints"`
	ArchitectureNotes string `json:"architecture_notes"`
	Links             string `json:"links"`
	ReferenceDocs     string `json:"reference_docs"`
}

// ProjectUpdate carries the mutable project fields; nil means unchanged.
type ProjectUpdate struct {
	Name              *string `json:"name"`
	Path              *string `json:"path"`
	ProjectGoal       *string `json:"project_goal"`
	Constraints       *string `json:"constraints"`
	ArchitectureNotes *string `json:"architecture_notes"`
	Links             *string `json:"links"`
	ReferenceDocs     *string `json:"reference_docs"`
}

// CreateProject validates the path is an existing directory and inserts a
// new project. An empty name defaults to the directory's base name.
func (s *Store) CreateProject(name, path, goal, constraints, notes, links, docs string) (*Project, error) {
	resolved, err := resolveDir(path)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = filepath.Base(resolved)
	}

	id := uuid.NewString()
	now := nowUTC()
	_, err = s.db.Exec(
		`INSERT INTO projects (id, name, path, project_goal, constraints, architecture_notes, links, reference_docs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, resolved, goal, constraints, notes, links, docs, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	s.LogActivity(id, "project", id, "create", map[string]any{"name": name})
	return s.GetProject(id)
}

// GetProject fetches one project.
func (s *Store) GetProject(id string) (*Project, error) {
	var p Project
	err := s.db.QueryRow(
		`SELECT id, name, path, project_goal, constraints, architecture_notes, links, reference_docs
		 FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Path, &p.ProjectGoal, &p.Constraints, &p.ArchitectureNotes, &p.Links, &p.ReferenceDocs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(
		`SELECT id, name, path, project_goal, constraints, architecture_notes, links, reference_docs
		 FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.ProjectGoal, &p.Constraints, &p.ArchitectureNotes, &p.Links, &p.ReferenceDocs); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject applies the non-nil fields of upd.
func (s *Store) UpdateProject(id string, upd ProjectUpdate) (*Project, error) {
	current, err := s.GetProject(id)
	if err != nil {
		return nil, err
	}

	set := []string{}
	args := []any{}
	addField := func(column, value string) {
		set = append(set, column+" = ?")
		args = append(args, value)
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			name = current.Name
		}
		addField("name", name)
	}
	if upd.Path != nil {
		resolved, err := resolveDir(*upd.Path)
		if err != nil {
			return nil, err
		}
		addField("path", resolved)
	}
	if upd.ProjectGoal != nil {
		addField("project_goal", *upd.ProjectGoal)
	}
	if upd.Constraints != nil {
		addField("constraints", *upd.Constraints)
	}
	if upd.ArchitectureNotes != nil {
		addField("architecture_notes", *upd.ArchitectureNotes)
	}
	if upd.Links != nil {
		addField("links", *upd.Links)
	}
	if upd.ReferenceDocs != nil {
		addField("reference_docs", *upd.ReferenceDocs)
	}

	if len(set) > 0 {
		addField("updated_at", nowUTC())
		args = append(args, id)
		query := "UPDATE projects SET " + strings.Join(set, ", ") + " WHERE id = ?"
		if _, err := s.db.Exec(query, args...); err != nil {
			return nil, fmt.Errorf("update project: %w", err)
		}
		s.LogActivity(id, "project", id, "update", map[string]any{"fields": len(set) - 1})
	}

	return s.GetProject(id)
}

// DeleteProject removes a project row. Tickets keep their project_id for
// archive queries; they are not cascaded.
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.LogActivity(id, "project", id, "delete", nil)
	return nil
}

// resolveDir expands and validates a directory path.
func resolveDir(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", path)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", path)
	}
	return abs, nil
}
