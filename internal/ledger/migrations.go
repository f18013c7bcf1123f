package ledger

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations returns all ledger migrations in order.
func migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_face_records_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS face_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					display_name TEXT NOT NULL,
					point_id TEXT NOT NULL UNIQUE,
					image_handle TEXT DEFAULT '',
					created_at TEXT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_face_records_tenant_id ON face_records (tenant_id);
				CREATE INDEX IF NOT EXISTS idx_face_records_point_id ON face_records (point_id);

				CREATE TABLE IF NOT EXISTS schema_migrations (
					version INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// migrate applies all pending migrations.
func migrate(db *sql.DB) error {
	// The tracking table is created by migration 1; a query error here
	// means nothing has been applied yet.
	applied := make(map[int]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err == nil {
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return fmt.Errorf("ledger: scan migration version: %w", err)
			}
			applied[v] = true
		}
		rows.Close()
	}

	for _, m := range migrations() {
		if applied[m.Version] {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("ledger: migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec(
			"INSERT OR IGNORE INTO schema_migrations (version, name) VALUES (?, ?)",
			m.Version, m.Name); err != nil {
			return fmt.Errorf("ledger: record migration %d: %w", m.Version, err)
		}
	}
	return nil
}
