package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SessionRecord is the archived metadata row for a session. Timestamps are
// RFC 3339 strings, matching the wire format.
type SessionRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Command        string `json:"command"`
	Cwd            string `json:"cwd"`
	Pid            int    `json:"pid"`
	Status         string `json:"status"`
	LastActivityAt string `json:"last_activity_at,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// ArchiveItem is a session row plus the tickets ever assigned to it.
type ArchiveItem struct {
	SessionRecord
	TicketIDs    []string `json:"ticket_ids"`
	TicketTitles []string `json:"ticket_titles"`
	TicketCount  int      `json:"ticket_count"`
}

// InsertSession records a freshly created session.
func (s *Store) InsertSession(rec SessionRecord) error {
	now := nowUTC()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, name, command, cwd, pid, status, last_activity_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Command, rec.Cwd, rec.Pid, rec.Status, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessionState persists status and latest activity in one statement.
// The lifecycle monitor calls this on every sweep.
func (s *Store) UpdateSessionState(id, status string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET status = ?, last_activity_at = ?, updated_at = ? WHERE id = ?",
		status, at.UTC().Format(timeLayout), nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return nil
}

// CloseSession marks a session closed and reports whether the row existed.
// The row is retained for the archive.
func (s *Store) CloseSession(id string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE sessions SET status = 'closed', updated_at = ? WHERE id = ?",
		nowUTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSession fetches one archived session row, or nil if it never existed.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		"SELECT id, name, command, cwd, pid, status, last_activity_at, created_at, updated_at FROM sessions WHERE id = ?",
		id,
	)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &rec, nil
}

// MarkInterruptedStale flips sessions left non-closed by a previous run to
// stale. The in-memory registry is not reconciled with OS processes on
// startup, so rows claiming to run are known lies after a restart.
func (s *Store) MarkInterruptedStale() (int, error) {
	res, err := s.db.Exec(
		"UPDATE sessions SET status = 'stale', updated_at = ? WHERE status NOT IN ('closed', 'stale')",
		nowUTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted sessions stale: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Archive returns one page of archived sessions filtered by status
// ("closed", "stale", or "all"), newest activity first, plus the total
// number of matching rows. Each item carries the ids and titles of tickets
// ever assigned to the session. Both queries are single statements, so a
// page sees a consistent ordering even under concurrent inserts.
func (s *Store) Archive(status string, limit, offset int) ([]ArchiveItem, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if status != "all" {
		where = "WHERE s.status = ?"
		args = append(args, status)
	}

	query := fmt.Sprintf(`
		SELECT s.id, s.name, s.command, s.cwd, s.pid, s.status,
		       s.last_activity_at, s.created_at, s.updated_at,
		       GROUP_CONCAT(t.id) AS ticket_ids,
		       GROUP_CONCAT(t.title, char(31)) AS ticket_titles,
		       COUNT(t.id) AS ticket_count
		FROM sessions s
		LEFT JOIN tickets t ON t.session_id = s.id
		%s
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.id
		LIMIT ? OFFSET ?`, where)

	rows, err := s.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	items := []ArchiveItem{}
	for rows.Next() {
		var item ArchiveItem
		var lastActivity, ticketIDs, ticketTitles sql.NullString
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Command, &item.Cwd, &item.Pid, &item.Status,
			&lastActivity, &item.CreatedAt, &item.UpdatedAt,
			&ticketIDs, &ticketTitles, &item.TicketCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan archive row: %w", err)
		}
		item.LastActivityAt = lastActivity.String
		item.TicketIDs = splitConcat(ticketIDs.String, ",")
		// Titles are joined on the unit-separator control byte so commas
		// inside titles survive the round trip.
		item.TicketTitles = splitConcat(ticketTitles.String, "\x1f")
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := "SELECT COUNT(*) FROM sessions s " + where
	var total int
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count archive: %w", err)
	}

	return items, total, nil
}

func scanSession(row *sql.Row) (SessionRecord, error) {
	var rec SessionRecord
	var lastActivity sql.NullString
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Command, &rec.Cwd, &rec.Pid, &rec.Status,
		&lastActivity, &rec.CreatedAt, &rec.UpdatedAt,
	)
	rec.LastActivityAt = lastActivity.String
	return rec, err
}

func splitConcat(joined, sep string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, sep)
}
