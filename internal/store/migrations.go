package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id                TEXT PRIMARY KEY,
		action            TEXT NOT NULL,
		owner             TEXT NOT NULL,
		repo              TEXT NOT NULL,
		branch            TEXT NOT NULL,
		success           INTEGER NOT NULL,
		projects_created  INTEGER NOT NULL DEFAULT 0,
		projects_existing INTEGER NOT NULL DEFAULT 0,
		issues_created    INTEGER NOT NULL DEFAULT 0,
		issues_existing   INTEGER NOT NULL DEFAULT 0,
		errors            TEXT NOT NULL DEFAULT '[]',
		started_at        INTEGER NOT NULL,
		finished_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);

	CREATE TABLE IF NOT EXISTS approval_decisions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id          TEXT NOT NULL,
		interruption_id TEXT NOT NULL,
		agent           TEXT NOT NULL,
		tool            TEXT NOT NULL,
		arguments       TEXT NOT NULL,
		approved        INTEGER NOT NULL,
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_run ON approval_decisions(run_id);
	CREATE INDEX IF NOT EXISTS idx_approvals_created ON approval_decisions(created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		metadata   TEXT,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tokens_expires ON tokens(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
