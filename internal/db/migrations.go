package db

import (
	"fmt"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001},
		{2, migration002},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

const migration001 = `
-- Upload runs (history of every submission)
CREATE TABLE upload_runs (
    id INTEGER PRIMARY KEY,
    session_id TEXT UNIQUE NOT NULL,
    job_id TEXT,
    files TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'uploading',
    percent INTEGER DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    error_message TEXT
);

CREATE INDEX idx_upload_runs_status ON upload_runs(status);
CREATE INDEX idx_upload_runs_started_at ON upload_runs(started_at);

-- Criteria updates (audit log)
CREATE TABLE criteria_updates (
    id INTEGER PRIMARY KEY,
    status TEXT NOT NULL,
    error_message TEXT,
    created_at DATETIME NOT NULL
);

-- App settings (key-value store)
CREATE TABLE settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT INTO settings (key, value) VALUES ('retention_days', '30');
`

const migration002 = `
-- Watch jobs: folders uploaded on a cron schedule
CREATE TABLE watch_jobs (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    paths TEXT NOT NULL DEFAULT '[]',
    cron_expression TEXT NOT NULL,
    enabled BOOLEAN DEFAULT 1,
    last_run_at DATETIME,
    next_run_at DATETIME,
    created_at DATETIME NOT NULL
);

ALTER TABLE upload_runs ADD COLUMN watch_job_id INTEGER;
CREATE INDEX idx_upload_runs_watch_job_id ON upload_runs(watch_job_id);
`
