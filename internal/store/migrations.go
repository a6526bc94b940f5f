package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE batches (
					batch_id TEXT PRIMARY KEY,
					status TEXT NOT NULL DEFAULT 'staged',
					file_count INTEGER DEFAULT 0,
					imported_count INTEGER DEFAULT 0,
					warning_count INTEGER DEFAULT 0,
					error_message TEXT,
					staging_dir TEXT,
					created_at DATETIME NOT NULL,
					completed_at DATETIME
				);

				CREATE TABLE batch_files (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					batch_id TEXT NOT NULL,
					original_path TEXT NOT NULL,
					remote_path TEXT NOT NULL,
					status TEXT DEFAULT 'staged',
					error TEXT,
					import_time TEXT,
					FOREIGN KEY(batch_id) REFERENCES batches(batch_id)
				);

				CREATE INDEX idx_batch_files_batch ON batch_files(batch_id);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
