// -----------------------------------------------------------------------
// Run - Persistent run record and status lifecycle
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the state of a run.
// Terminal set = everything except QUEUED, RUNNING, PAUSED.
type RunStatus string

const (
	RunStatusQueued              RunStatus = "QUEUED"
	RunStatusRunning             RunStatus = "RUNNING"
	RunStatusSucceeded           RunStatus = "SUCCEEDED"
	RunStatusFailed              RunStatus = "FAILED"
	RunStatusPaused              RunStatus = "PAUSED"
	RunStatusTimeout             RunStatus = "TIMEOUT"
	RunStatusInternalError       RunStatus = "INTERNAL_ERROR"
	RunStatusQuotaExceeded       RunStatus = "QUOTA_EXCEEDED"
	RunStatusMemoryLimitExceeded RunStatus = "MEMORY_LIMIT_EXCEEDED"
)

// IsValid returns true if the status is a recognized value
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusSucceeded, RunStatusFailed,
		RunStatusPaused, RunStatusTimeout, RunStatusInternalError,
		RunStatusQuotaExceeded, RunStatusMemoryLimitExceeded:
		return true
	}
	return false
}

// IsTerminal returns true if the run can accept no further status transitions
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusPaused:
		return false
	}
	return s.IsValid()
}

// PauseType identifies how a paused run expects to be resumed
type PauseType string

const (
	PauseTypeWebhook PauseType = "WEBHOOK"
	PauseTypeDelay   PauseType = "DELAY"
)

// ProgressUpdateType identifies which channel a worker report belongs to
type ProgressUpdateType string

const (
	ProgressUpdateTypeNone            ProgressUpdateType = "NONE"
	ProgressUpdateTypeWebhookResponse ProgressUpdateType = "WEBHOOK_RESPONSE"
	ProgressUpdateTypeTestRun         ProgressUpdateType = "TEST_RUN"
)

// PauseMetadata is present only while a run is PAUSED.
// PauseType WEBHOOK implies RequestID identifies the suspended external caller.
type PauseMetadata struct {
	ProgressUpdateType ProgressUpdateType `json:"progress_update_type,omitempty"`
	HandlerID          string             `json:"handler_id,omitempty"`
	PauseType          PauseType          `json:"pause_type,omitempty"`
	RequestID          string             `json:"request_id,omitempty"`
}

// Merge overlays caller-supplied metadata on top of the receiver.
// Caller fields win on conflict since they carry pause-type-specific detail.
func (m PauseMetadata) Merge(caller *PauseMetadata) *PauseMetadata {
	merged := m
	if caller == nil {
		return &merged
	}
	if caller.ProgressUpdateType != "" {
		merged.ProgressUpdateType = caller.ProgressUpdateType
	}
	if caller.HandlerID != "" {
		merged.HandlerID = caller.HandlerID
	}
	if caller.PauseType != "" {
		merged.PauseType = caller.PauseType
	}
	if caller.RequestID != "" {
		merged.RequestID = caller.RequestID
	}
	return &merged
}

// Run represents one execution instance of a flow, tracked through
// queued -> running -> terminal/paused states.
//
// Run State Lifecycle:
//  1. Run created (QUEUED) and a RunMessage enqueued
//  2. Worker leases the message and reports RUNNING heartbeats
//  3. Worker reports a terminal or PAUSED status via the coordinator
//  4. Coordinator persists, acks the queue, unblocks waiters, cascades
type Run struct {
	// Core identification
	ID         string `json:"id" badgerhold:"key"`
	ProjectID  string `json:"project_id"`
	PlatformID string `json:"platform_id"`

	// Parent linkage (lookup only, no ownership)
	ParentRunID         *string `json:"parent_run_id,omitempty"`
	FailParentOnFailure bool    `json:"fail_parent_on_failure"`

	// Status and pause state
	Status        RunStatus      `json:"status"`
	PauseMetadata *PauseMetadata `json:"pause_metadata,omitempty"`

	// Accounting - accumulates monotonically across updates
	TasksConsumed int      `json:"tasks_consumed"`
	DurationMs    int64    `json:"duration_ms"`
	Tags          []string `json:"tags,omitempty"`

	// Failure detail
	FailedStepName string `json:"failed_step_name,omitempty"`
	Error          string `json:"error,omitempty"`

	// Execution log blob reference (stored externally)
	LogsFileID string `json:"logs_file_id,omitempty"`

	// Timestamps
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRun creates a new queued run
func NewRun(projectID, platformID string) *Run {
	return &Run{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		PlatformID: platformID,
		Status:     RunStatusQueued,
		CreatedAt:  time.Now(),
	}
}

// NewChildRun creates a run triggered as a sub-execution of a parent run.
// failParent is fixed at creation and governs cascade behavior.
func NewChildRun(parent *Run, failParent bool) *Run {
	run := NewRun(parent.ProjectID, parent.PlatformID)
	parentID := parent.ID
	run.ParentRunID = &parentID
	run.FailParentOnFailure = failParent
	return run
}

// IsTerminal returns true if the run has reached a terminal status
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// GetParentRunID returns the parent run ID or empty string if this is a root run
func (r *Run) GetParentRunID() string {
	if r.ParentRunID == nil {
		return ""
	}
	return *r.ParentRunID
}

// MarkStarted marks the run as running
func (r *Run) MarkStarted() {
	r.Status = RunStatusRunning
	now := time.Now()
	r.StartedAt = &now
}
