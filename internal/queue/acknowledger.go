package queue

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// Acknowledger translates a run's reported status into a queue-level
// acknowledgment.
//
// Decision table:
//
//	SUCCEEDED, FAILED, TIMEOUT, PAUSED,
//	QUOTA_EXCEEDED, MEMORY_LIMIT_EXCEEDED  -> complete (lease released)
//	INTERNAL_ERROR                          -> fail (eligible for retry)
//	QUEUED, RUNNING                         -> no acknowledgment (heartbeat)
type Acknowledger struct {
	queueMgr interfaces.QueueManager
	logger   arbor.ILogger
}

// NewAcknowledger creates a new queue acknowledger
func NewAcknowledger(queueMgr interfaces.QueueManager, logger arbor.ILogger) *Acknowledger {
	return &Acknowledger{
		queueMgr: queueMgr,
		logger:   logger,
	}
}

// Ack acknowledges the queue job for the given run status. The delivery
// token must match the lease held for jobID.
func (a *Acknowledger) Ack(ctx context.Context, jobID string, status models.RunStatus, token, message string) error {
	switch status {
	case models.RunStatusQueued, models.RunStatusRunning:
		// Progress heartbeat, not a completion - the job must stay leased
		return nil

	case models.RunStatusInternalError:
		a.logger.Warn().
			Str("job_id", jobID).
			Str("message", message).
			Msg("Failing queue job after internal error")
		if err := a.queueMgr.Fail(ctx, jobID, token, message); err != nil {
			return fmt.Errorf("failed to fail queue job %s: %w", jobID, err)
		}
		return nil

	case models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusTimeout,
		models.RunStatusPaused, models.RunStatusQuotaExceeded, models.RunStatusMemoryLimitExceeded:
		if err := a.queueMgr.Ack(ctx, jobID, token); err != nil {
			return fmt.Errorf("failed to complete queue job %s: %w", jobID, err)
		}
		return nil

	default:
		return fmt.Errorf("cannot acknowledge queue job %s: unrecognized run status %q", jobID, status)
	}
}
