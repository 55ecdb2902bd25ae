package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// Coordinator is the run-completion state machine. It consumes a
// worker-reported update and decides, in order:
//
//  1. whether a synchronous response is owed to an external caller
//     (published before persistence so the waiter unblocks as early as
//     possible - see the ordering note on UpdateRun)
//  2. how the run record is persisted
//  3. whether the worker gets a log-upload target or a progress broadcast
//  4. how the backing queue job is acknowledged
//  5. whether a suspended parent run must be cascaded as failed
//
// The queue, waiter registry and run store fail independently; the
// coordinator never assumes transactional atomicity across them. The
// persisted run status is the source of truth: a persistence failure
// aborts the ack and cascade so the worker retries the whole update, and
// a crash after persistence is recovered by queue-side lease expiry
// redelivering the report as a safe duplicate.
type Coordinator struct {
	runStorage   interfaces.RunStorage
	logStorage   interfaces.LogStorage
	waiters      interfaces.WaiterRegistry
	acknowledger interfaces.Acknowledger
	cascade      *CascadeNotifier
	eventService interfaces.EventService
	logger       arbor.ILogger
}

// NewCoordinator creates a new completion coordinator
func NewCoordinator(
	runStorage interfaces.RunStorage,
	logStorage interfaces.LogStorage,
	waiters interfaces.WaiterRegistry,
	acknowledger interfaces.Acknowledger,
	cascade *CascadeNotifier,
	eventService interfaces.EventService,
	logger arbor.ILogger,
) *Coordinator {
	return &Coordinator{
		runStorage:   runStorage,
		logStorage:   logStorage,
		waiters:      waiters,
		acknowledger: acknowledger,
		cascade:      cascade,
		eventService: eventService,
		logger:       logger,
	}
}

// UpdateRun applies a worker-reported run update.
//
// The synchronous response is published BEFORE the run store update: the
// waiter delivery is the externally observable contract, and publish is
// idempotent per key, so a persistence failure after publish costs a
// benign duplicate on retry rather than a stranded caller.
func (c *Coordinator) UpdateRun(ctx context.Context, report *models.RunUpdateReport) (*models.UpdateRunResult, error) {
	if owesResponse(report) {
		response, err := responseForStatus(report.Status)
		if err != nil {
			// Contract violation in the caller - masking it would strand
			// the waiting caller forever
			return nil, fmt.Errorf("run %s: %w", report.RunID, err)
		}
		c.waiters.Publish(report.HTTPRequestID, report.WorkerHandlerID, response)
	}

	run, err := c.runStorage.UpdateRun(ctx, report.RunID, interfaces.RunUpdate{
		Status:         report.Status,
		Tasks:          report.Tasks,
		DurationMs:     report.DurationMs,
		Tags:           report.Tags,
		FailedStepName: report.FailedStepName,
		Error:          report.Error,
		PauseMetadata:  c.mergedPauseMetadata(report),
	})
	if err != nil {
		// Abort: no ack and no cascade, so the worker retries the whole
		// update against the unchanged queue lease
		return nil, fmt.Errorf("failed to persist run update for %s: %w", report.RunID, err)
	}

	result := &models.UpdateRunResult{}

	if report.ExecutionStateLength > 0 {
		// Bulk state upload replaces the progress broadcast - callers
		// uploading execution state notify progress through that channel
		target, err := c.logStorage.RequestUpload(ctx, run.ID, run.LogsFileID, report.ExecutionStateLength)
		if err != nil {
			return nil, fmt.Errorf("failed to issue log upload target for %s: %w", run.ID, err)
		}
		if target.FileID != run.LogsFileID {
			if err := c.runStorage.SetLogsFile(ctx, run.ID, target.FileID); err != nil {
				return nil, err
			}
		}
		result.UploadURL = target.UploadURL
	} else {
		c.broadcastProgress(ctx, run)
	}

	if report.JobID != "" {
		ackMessage := report.Error
		if err := c.acknowledger.Ack(ctx, report.JobID, run.Status, report.DeliveryToken, ackMessage); err != nil {
			// The persisted status is the source of truth; a lost ack is
			// recovered by lease expiry redelivering a safe duplicate
			c.logger.Warn().
				Err(err).
				Str("run_id", run.ID).
				Str("job_id", report.JobID).
				Msg("Queue acknowledgment failed")
		}
	}

	if c.shouldCascade(run) {
		if err := c.cascade.Cascade(ctx, CascadeParams{
			ParentRunID: run.GetParentRunID(),
			ChildRunID:  run.ID,
			ProjectID:   run.ProjectID,
			PlatformID:  run.PlatformID,
		}); err != nil {
			c.logger.Error().
				Err(err).
				Str("run_id", run.ID).
				Str("parent_run_id", run.GetParentRunID()).
				Msg("Parent cascade failed")
		}
	}

	return result, nil
}

// mergedPauseMetadata builds the pause metadata persisted for a PAUSED
// report: the worker's routing fields, overlaid with caller-supplied
// metadata which wins on conflict since it carries pause-type-specific
// detail such as the request ID.
func (c *Coordinator) mergedPauseMetadata(report *models.RunUpdateReport) *models.PauseMetadata {
	if report.Status != models.RunStatusPaused {
		return nil
	}
	base := models.PauseMetadata{
		ProgressUpdateType: report.Progress(),
		HandlerID:          report.WorkerHandlerID,
	}
	return base.Merge(report.PauseMetadata)
}

// shouldCascade returns true when a failed child run must unblock its
// suspended parent
func (c *Coordinator) shouldCascade(run *models.Run) bool {
	if !run.FailParentOnFailure || run.ParentRunID == nil {
		return false
	}
	switch run.Status {
	case models.RunStatusSucceeded, models.RunStatusRunning, models.RunStatusPaused, models.RunStatusQueued:
		return false
	}
	return true
}

// broadcastProgress publishes a lightweight run-progress notification
// scoped to the run's owning project. Fire-and-forget: no acknowledgment
// is expected and transport is the subscribers' concern.
func (c *Coordinator) broadcastProgress(ctx context.Context, run *models.Run) {
	if c.eventService == nil {
		return
	}

	eventType := interfaces.EventRunProgress
	switch run.Status {
	case models.RunStatusSucceeded:
		eventType = interfaces.EventRunCompleted
	case models.RunStatusFailed, models.RunStatusTimeout, models.RunStatusInternalError,
		models.RunStatusQuotaExceeded, models.RunStatusMemoryLimitExceeded:
		eventType = interfaces.EventRunFailed
	case models.RunStatusPaused:
		eventType = interfaces.EventRunPaused
	}

	event := interfaces.Event{
		Type: eventType,
		Payload: map[string]interface{}{
			"run_id":     run.ID,
			"project_id": run.ProjectID,
			"status":     string(run.Status),
			"timestamp":  time.Now().Format(time.RFC3339),
		},
	}
	if err := c.eventService.Publish(ctx, event); err != nil {
		c.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to publish run progress event")
	}
}
