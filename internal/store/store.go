// Package store provides the SQLite-backed archive for sessions, projects,
// tickets, and the activity log. Live session state stays in memory; this
// database is what survives a restart and what the archive listing reads.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at dbPath and applies migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies schema migrations tracked in schema_version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("applying store migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the initial schema.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			cwd TEXT NOT NULL,
			pid INTEGER NOT NULL,
			status TEXT NOT NULL,
			last_activity_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			project_goal TEXT DEFAULT '',
			constraints TEXT DEFAULT '',
			architecture_notes TEXT DEFAULT '',
			links TEXT DEFAULT '',
			reference_docs TEXT DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE tickets (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			success_criteria TEXT DEFAULT '',
			status TEXT NOT NULL,
			branch_name TEXT,
			worktree_path TEXT,
			session_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE activity_log (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			details_json TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX idx_sessions_status ON sessions(status);
		CREATE INDEX idx_sessions_updated ON sessions(updated_at);
		CREATE INDEX idx_tickets_project ON tickets(project_id);
		CREATE INDEX idx_tickets_session ON tickets(session_id);
		CREATE INDEX idx_activity_project ON activity_log(project_id);
	`)
	return err
}

// migrateV2 adds per-project memory notes.
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE project_memory (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX idx_memory_project ON project_memory(project_id);
	`)
	return err
}

// timeLayout is RFC 3339 with fixed-width nanoseconds. The fixed width
// keeps lexicographic ordering equal to chronological ordering, which the
// archive's ORDER BY relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// nowUTC returns the current time formatted the way every timestamp column
// stores it.
func nowUTC() string {
	return time.Now().UTC().Format(timeLayout)
}
