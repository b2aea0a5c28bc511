package store

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a schema migration step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus reports the current and available migration versions.
type MigrationStatus struct {
	CurrentVersion   int             `json:"current_version"`
	AvailableVersion int             `json:"available_version"`
	Pending          []MigrationInfo `json:"pending"`
}

// MigrationInfo describes a single migration.
type MigrationInfo struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: token, file, file_metadata, account tables and indexes",
		SQL: `
CREATE TABLE IF NOT EXISTS token (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  path TEXT NOT NULL,
  max_size_mib INTEGER,
  valid_until TEXT NOT NULL,
  created_at TEXT NOT NULL,
  content_expires_after_hours INTEGER,
  deleted_at TEXT,
  attempt_counter INTEGER NOT NULL DEFAULT 0,
  used_at TEXT,
  content_expires_at TEXT,
  backend_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS file (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  token_id INTEGER NOT NULL,
  attempt_counter INTEGER NOT NULL,
  mime_type TEXT,
  name TEXT,
  backend_type TEXT NOT NULL,
  backend_data TEXT NOT NULL,
  created_at TEXT NOT NULL,
  completed_at TEXT,
  FOREIGN KEY (token_id) REFERENCES token(id)
);

CREATE TABLE IF NOT EXISTS file_metadata (
  file_id INTEGER NOT NULL,
  size_b INTEGER,
  mime_type TEXT,
  FOREIGN KEY (file_id) REFERENCES file(id)
);

CREATE TABLE IF NOT EXISTS account (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT NOT NULL UNIQUE,
  phc TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_token_path ON token(path);
CREATE INDEX IF NOT EXISTS idx_file_token_id ON file(token_id);
CREATE INDEX IF NOT EXISTS idx_file_metadata_file_id ON file_metadata(file_id);
`,
	},
}

const migrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(migrationsTableSQL)
	return err
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigrations applies all pending migrations in order.
func runMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// MigrationPlan returns the current migration status without applying anything.
func MigrationPlan(db *sql.DB) (*MigrationStatus, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	current, err := currentVersion(db)
	if err != nil {
		return nil, err
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	available := 0
	if len(sorted) > 0 {
		available = sorted[len(sorted)-1].Version
	}

	var pending []MigrationInfo
	for _, m := range sorted {
		if m.Version > current {
			pending = append(pending, MigrationInfo{Version: m.Version, Description: m.Description})
		}
	}

	return &MigrationStatus{
		CurrentVersion:   current,
		AvailableVersion: available,
		Pending:          pending,
	}, nil
}
