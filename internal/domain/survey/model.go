package survey

import (
	"time"

	"github.com/rpggio/dugongwatch/internal/domain/ledger"
)

// EventType names a ledger change.
type EventType string

const (
	EventFilesProcessed EventType = "files_processed"
	EventReclassified   EventType = "reclassified"
	EventPurged         EventType = "purged"
	EventExpired        EventType = "expired"
)

// Event is published after every successful ledger write or removal.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Files     []string  `json:"files,omitempty"`
	FileCount int       `json:"fileCount"`
	At        time.Time `json:"at"`
}

// UploadResult describes one processed upload batch.
type UploadResult struct {
	SessionID string
	// Files holds the new records in upload order.
	Files   []ledger.FileRecord
	Skipped []string
	Ledger  *ledger.Ledger
}

// BackfillResult describes a backfill run.
type BackfillResult struct {
	SessionID string
	Processed int
	// Files holds every record in the ledger after the run.
	Files []ledger.FileRecord
}

// StatusResult is a session's liveness and contents.
type StatusResult struct {
	SessionID    string
	LastActivity time.Time
	Liveness     ledger.Liveness
	FileCount    int
	Files        []ledger.FileRecord
}

// PurgeResult reports what a purge removed.
type PurgeResult struct {
	SessionID     string
	LedgerDeleted bool
	BlobsDeleted  int
}
