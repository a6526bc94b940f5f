package store

import "time"

// Batch statuses as recorded in the ledger. The filesystem remains the
// source of truth for lifecycle decisions; the ledger is the queryable
// history behind the status command.
const (
	BatchStatusStaged       = "staged"
	BatchStatusTransferring = "transferring"
	BatchStatusAwaiting     = "awaiting_import"
	BatchStatusImported     = "imported"
	BatchStatusPending      = "pending"
	BatchStatusFailed       = "failed"
)

// Batch records one send attempt.
type Batch struct {
	BatchID       string
	Status        string
	FileCount     int
	ImportedCount int
	WarningCount  int
	ErrorMessage  string
	StagingDir    string
	CreatedAt     time.Time
	CompletedAt   time.Time // zero until a completion manifest is seen
}

// BatchFile tracks one file within a batch.
type BatchFile struct {
	ID           int64
	BatchID      string
	OriginalPath string
	RemotePath   string
	Status       string // "staged", "transferred", "imported", "failed"
	Error        string
	ImportTime   string // RFC3339, from the completion manifest
}
