// -----------------------------------------------------------------------
// Run Update Report - Worker-reported run outcome
// -----------------------------------------------------------------------

package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// RunUpdateReport is the payload a worker sends when reporting run progress
// or a terminal outcome. ProgressUpdateType defaults to NONE when absent.
type RunUpdateReport struct {
	RunID  string    `json:"run_id" validate:"required"`
	Status RunStatus `json:"status" validate:"required"`

	// Accounting
	Tasks      int      `json:"tasks"`
	DurationMs int64    `json:"duration_ms"`
	Tags       []string `json:"tags,omitempty"`

	// Failure detail
	FailedStepName string `json:"failed_step_name,omitempty"`
	Error          string `json:"error,omitempty"`

	// Synchronous response routing - both present when an external caller
	// is blocked awaiting this run's result
	WorkerHandlerID string `json:"worker_handler_id,omitempty"`
	HTTPRequestID   string `json:"http_request_id,omitempty"`

	ProgressUpdateType ProgressUpdateType `json:"progress_update_type,omitempty"`
	PauseMetadata      *PauseMetadata     `json:"pause_metadata,omitempty"`

	// Bulk execution state upload. When ExecutionStateLength > 0 the
	// coordinator returns an upload URL instead of broadcasting progress.
	ExecutionStateLength int64 `json:"execution_state_length,omitempty"`

	// Queue lease - required to acknowledge the backing queue job
	JobID         string `json:"job_id,omitempty"`
	QueueName     string `json:"queue_name,omitempty"`
	DeliveryToken string `json:"delivery_token,omitempty"`
}

var reportValidate = validator.New()

// Validate validates the report at the handler boundary
func (r *RunUpdateReport) Validate() error {
	if err := reportValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid run update report: %w", err)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run update report: unrecognized status %q", r.Status)
	}
	return nil
}

// Progress returns the report's progress update type, defaulting to NONE
func (r *RunUpdateReport) Progress() ProgressUpdateType {
	if r.ProgressUpdateType == "" {
		return ProgressUpdateTypeNone
	}
	return r.ProgressUpdateType
}

// UpdateRunResult is returned by the coordinator after applying a report
type UpdateRunResult struct {
	UploadURL string `json:"upload_url,omitempty"`
}

// EngineHTTPResponse is the synchronous payload delivered to a waiting caller
type EngineHTTPResponse struct {
	Status  int               `json:"status"`
	Body    interface{}       `json:"body"`
	Headers map[string]string `json:"headers"`
}
