package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// ActivityEntry is one audit row for a project-scoped mutation.
type ActivityEntry struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	Details    json.RawMessage `json:"details"`
	CreatedAt  string          `json:"created_at"`
}

// LogActivity records an audit entry. Failures are logged, never fatal to
// the mutation being audited.
func (s *Store) LogActivity(projectID, entityType, entityID, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte("{}")
	}
	_, err = s.db.Exec(
		`INSERT INTO activity_log (id, project_id, entity_type, entity_id, action, details_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), projectID, entityType, entityID, action, string(detailsJSON), nowUTC(),
	)
	if err != nil {
		slog.Warn("activity log insert failed", "action", action, "entity", entityID, "error", err)
	}
}

// ListActivity returns the most recent audit entries for a project.
func (s *Store) ListActivity(projectID string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		`SELECT id, project_id, entity_type, entity_id, action, details_json, created_at
		 FROM activity_log WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ActivityEntry{}
	for rows.Next() {
		var e ActivityEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EntityType, &e.EntityID, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
