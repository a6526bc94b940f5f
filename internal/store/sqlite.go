// Package store keeps the send-side batch ledger in SQLite. It records
// what was sent, when, and with what outcome; lifecycle decisions are made
// from the filesystem, not from here.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("ledger opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Batch Operations
// ============================================================================

// CreateBatch inserts a new batch record
func (s *Store) CreateBatch(b *Batch) error {
	const query = `
		INSERT INTO batches (
			batch_id, status, file_count, imported_count, warning_count,
			error_message, staging_dir, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		query,
		b.BatchID, b.Status, b.FileCount, b.ImportedCount, b.WarningCount,
		b.ErrorMessage, b.StagingDir, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// SetBatchStatus updates a batch's status and error message
func (s *Store) SetBatchStatus(batchID, status, errorMessage string) error {
	const query = `UPDATE batches SET status = ?, error_message = ? WHERE batch_id = ?`

	result, err := s.db.Exec(query, status, errorMessage, batchID)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("batch not found: %s", batchID)
	}
	return nil
}

// CompleteBatch records a confirmed import
func (s *Store) CompleteBatch(batchID string, importedCount, warningCount int, completedAt time.Time) error {
	const query = `
		UPDATE batches SET
			status = ?, imported_count = ?, warning_count = ?, completed_at = ?
		WHERE batch_id = ?
	`

	result, err := s.db.Exec(query, BatchStatusImported, importedCount, warningCount, completedAt, batchID)
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("batch not found: %s", batchID)
	}
	return nil
}

// GetBatch retrieves a batch by id
func (s *Store) GetBatch(batchID string) (*Batch, error) {
	const query = `
		SELECT batch_id, status, file_count, imported_count, warning_count,
		       error_message, staging_dir, created_at, completed_at
		FROM batches WHERE batch_id = ?
	`

	b := &Batch{}
	var errMsg, stagingDir sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRow(query, batchID).Scan(
		&b.BatchID, &b.Status, &b.FileCount, &b.ImportedCount, &b.WarningCount,
		&errMsg, &stagingDir, &b.CreatedAt, &completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("batch not found: %s", batchID)
		}
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}

	b.ErrorMessage = errMsg.String
	b.StagingDir = stagingDir.String
	if completedAt.Valid {
		b.CompletedAt = completedAt.Time
	}
	return b, nil
}

// ListBatches retrieves batches newest first, optionally filtered by status
func (s *Store) ListBatches(status string, limit int) ([]Batch, error) {
	query := `
		SELECT batch_id, status, file_count, imported_count, warning_count,
		       error_message, staging_dir, created_at, completed_at
		FROM batches
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	query += " ORDER BY batch_id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		var errMsg, stagingDir sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(
			&b.BatchID, &b.Status, &b.FileCount, &b.ImportedCount, &b.WarningCount,
			&errMsg, &stagingDir, &b.CreatedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.ErrorMessage = errMsg.String
		b.StagingDir = stagingDir.String
		if completedAt.Valid {
			b.CompletedAt = completedAt.Time
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// CountBatchesByStatus returns the number of batches with the given status
func (s *Store) CountBatchesByStatus(status string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM batches WHERE status = ?", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return count, nil
}

// ============================================================================
// BatchFile Operations
// ============================================================================

// AddBatchFiles inserts the file records for a batch in one transaction
func (s *Store) AddBatchFiles(files []BatchFile) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO batch_files (batch_id, original_path, remote_path, status, error, import_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for i := range files {
		f := &files[i]
		result, err := tx.Exec(query, f.BatchID, f.OriginalPath, f.RemotePath, f.Status, f.Error, f.ImportTime)
		if err != nil {
			return fmt.Errorf("failed to insert batch file: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		f.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch files: %w", err)
	}
	return nil
}

// SetFileStatus updates one file's status and error by remote path
func (s *Store) SetFileStatus(batchID, remotePath, status, errMsg string) error {
	const query = `
		UPDATE batch_files SET status = ?, error = ?
		WHERE batch_id = ? AND remote_path = ?
	`
	if _, err := s.db.Exec(query, status, errMsg, batchID, remotePath); err != nil {
		return fmt.Errorf("failed to update batch file: %w", err)
	}
	return nil
}

// MarkFileImported records the import outcome from a completion manifest
func (s *Store) MarkFileImported(batchID, remotePath, importTime string) error {
	const query = `
		UPDATE batch_files SET status = 'imported', import_time = ?
		WHERE batch_id = ? AND remote_path = ?
	`
	if _, err := s.db.Exec(query, importTime, batchID, remotePath); err != nil {
		return fmt.Errorf("failed to mark file imported: %w", err)
	}
	return nil
}

// ListBatchFiles retrieves the file records of a batch in insertion order
func (s *Store) ListBatchFiles(batchID string) ([]BatchFile, error) {
	const query = `
		SELECT id, batch_id, original_path, remote_path, status, error, import_time
		FROM batch_files WHERE batch_id = ? ORDER BY id
	`

	rows, err := s.db.Query(query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch files: %w", err)
	}
	defer rows.Close()

	var files []BatchFile
	for rows.Next() {
		var f BatchFile
		var errMsg, importTime sql.NullString
		if err := rows.Scan(&f.ID, &f.BatchID, &f.OriginalPath, &f.RemotePath, &f.Status, &errMsg, &importTime); err != nil {
			return nil, fmt.Errorf("failed to scan batch file: %w", err)
		}
		f.Error = errMsg.String
		f.ImportTime = importTime.String
		files = append(files, f)
	}
	return files, rows.Err()
}
