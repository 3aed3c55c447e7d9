package run

import (
	"time"

	"medichat/internal/document"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one ingestion run as recorded in the ledger.
type Run struct {
	ID        string                 `json:"id"`
	Directory string                 `json:"directory"`
	IndexName string                 `json:"index_name"`
	Status    Status                 `json:"status"`
	Files     int                    `json:"files"`
	Chunks    int                    `json:"chunks"`
	Skipped   []document.FileFailure `json:"skipped"`
	Error     string                 `json:"error"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}
