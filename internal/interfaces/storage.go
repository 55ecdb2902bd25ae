package interfaces

import (
	"context"

	"github.com/ternarybob/relay/internal/models"
)

// RunUpdate carries the fields the coordinator persists in one store call.
// Accounting fields accumulate; status transitions are validated against
// the terminal-once invariant inside the store.
type RunUpdate struct {
	Status         models.RunStatus
	Tasks          int
	DurationMs     int64
	Tags           []string
	FailedStepName string
	Error          string
	PauseMetadata  *models.PauseMetadata
}

// RunStorage manages persistent run state.
// UpdateRun is the single mutation entry point the coordinator calls and
// must apply updates under per-run mutual exclusion.
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	UpdateRun(ctx context.Context, runID string, update RunUpdate) (*models.Run, error)
	SetLogsFile(ctx context.Context, runID, fileID string) error
}

// LogUploadTarget is where a worker should PUT bulk execution state
type LogUploadTarget struct {
	FileID    string `json:"file_id"`
	UploadURL string `json:"upload_url"`
}

// LogStorage issues upload targets for externally stored execution logs
type LogStorage interface {
	// RequestUpload returns an upload target for the run's execution log,
	// reusing fileID when the run already has one.
	RequestUpload(ctx context.Context, runID, fileID string, contentLength int64) (*LogUploadTarget, error)
}

// StorageManager provides access to all storage services
type StorageManager interface {
	RunStorage() RunStorage
	LogStorage() LogStorage
	Close() error
}
