package runs

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// CascadeParams identifies a failed child run whose parent is suspended
// awaiting it
type CascadeParams struct {
	ParentRunID string
	ChildRunID  string
	ProjectID   string
	PlatformID  string
}

// CascadeNotifier propagates a child run's failure to a parent run that is
// paused on a webhook-type suspension, by resolving the parent's pending
// request and delivering an error notification to its callback address.
type CascadeNotifier struct {
	runStorage interfaces.RunStorage
	callbacks  interfaces.CallbackService
	logger     arbor.ILogger
}

// NewCascadeNotifier creates a new parent cascade notifier
func NewCascadeNotifier(runStorage interfaces.RunStorage, callbacks interfaces.CallbackService, logger arbor.ILogger) *CascadeNotifier {
	return &CascadeNotifier{
		runStorage: runStorage,
		callbacks:  callbacks,
		logger:     logger,
	}
}

// Cascade resolves the parent run's pending webhook and notifies it that
// the child failed.
//
// A run flagged failParentOnFailure must only ever be paused on a
// webhook-type suspension; anything else is an invariant violation and the
// cascade is aborted rather than corrupting the parent. Delivery failures
// are logged, not retried - the already-committed child state stands.
func (n *CascadeNotifier) Cascade(ctx context.Context, params CascadeParams) error {
	parent, err := n.runStorage.GetRun(ctx, params.ParentRunID)
	if err != nil {
		return fmt.Errorf("cascade failed to load parent run %s: %w", params.ParentRunID, err)
	}

	pause := parent.PauseMetadata
	if pause == nil || pause.PauseType != models.PauseTypeWebhook || pause.RequestID == "" {
		return fmt.Errorf("cascade invariant violation: parent run %s is not suspended on a webhook (child %s)",
			params.ParentRunID, params.ChildRunID)
	}

	callbackURL := n.callbacks.ResolveCallbackURL(params.PlatformID, params.ParentRunID, pause.RequestID)
	link := n.callbacks.ResolveRunLink(params.ProjectID, params.ChildRunID)

	notification := interfaces.CascadeNotification{
		Status: "error",
		Data: interfaces.CascadeNotifyDetail{
			Message: "The child flow run has failed",
			Link:    link,
		},
	}

	if err := n.callbacks.Notify(ctx, callbackURL, notification); err != nil {
		// Best effort - the parent may stay stuck until its own suspension
		// layer times out, which is the accepted degraded mode
		n.logger.Error().
			Err(err).
			Str("parent_run_id", params.ParentRunID).
			Str("child_run_id", params.ChildRunID).
			Str("callback_url", callbackURL).
			Msg("Cascade delivery failed")
		return nil
	}

	n.logger.Info().
		Str("parent_run_id", params.ParentRunID).
		Str("child_run_id", params.ChildRunID).
		Msg("Parent run notified of child failure")

	return nil
}
