// Package db provides database schema migration management.
package db

import (
	"fmt"
	"time"
)

// migration is one schema step. Migrations are embedded and applied in
// version order; applied versions are tracked in schema_migrations.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "records, sync queue, cursor, conflicts",
		SQL: `
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			dirty INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(dirty) WHERE dirty = 1;
		CREATE INDEX IF NOT EXISTS idx_records_deleted ON records(deleted, updated_at) WHERE deleted = 1;

		CREATE TABLE IF NOT EXISTS sync_queue (
			sequence INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			operation TEXT NOT NULL,
			base_revision INTEGER NOT NULL DEFAULT 0,
			base_payload TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			record_updated_at INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_queue_coalesce
			ON sync_queue(record_id) WHERE state IN ('pending', 'held');
		CREATE INDEX IF NOT EXISTS idx_sync_queue_ready
			ON sync_queue(state, next_attempt_at, sequence);

		CREATE TABLE IF NOT EXISTS sync_cursor (
			id INTEGER PRIMARY KEY CHECK(id = 1),
			cursor TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL DEFAULT 0
		);
		INSERT OR IGNORE INTO sync_cursor (id, cursor, updated_at) VALUES (1, '', 0);

		CREATE TABLE IF NOT EXISTS conflicts (
			record_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			local_payload TEXT NOT NULL DEFAULT '',
			remote_payload TEXT NOT NULL DEFAULT '',
			base_payload TEXT NOT NULL DEFAULT '',
			local_revision INTEGER NOT NULL DEFAULT 0,
			remote_revision INTEGER NOT NULL DEFAULT 0,
			local_updated_at INTEGER NOT NULL DEFAULT 0,
			remote_updated_at INTEGER NOT NULL DEFAULT 0,
			local_deleted INTEGER NOT NULL DEFAULT 0,
			remote_deleted INTEGER NOT NULL DEFAULT 0,
			detected_at INTEGER NOT NULL DEFAULT 0,
			resolution_state TEXT NOT NULL DEFAULT 'pendingManual'
		);
		CREATE INDEX IF NOT EXISTS idx_conflicts_state ON conflicts(resolution_state);
		`,
	},
}

// Migrate applies any unapplied migrations in order.
func (db *DB) Migrate() error {
	if err := db.initMigrations(); err != nil {
		return err
	}

	current, err := db.currentVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().Unix(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (db *DB) initMigrations() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`)
	return err
}

func (db *DB) currentVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}
