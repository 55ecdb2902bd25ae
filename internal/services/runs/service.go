package runs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// CreateRunRequest describes a new run to create and enqueue
type CreateRunRequest struct {
	ProjectID           string          `json:"project_id" validate:"required"`
	PlatformID          string          `json:"platform_id"`
	ParentRunID         string          `json:"parent_run_id,omitempty"`
	FailParentOnFailure bool            `json:"fail_parent_on_failure,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
}

// Service manages run creation and lookup. Completion coordination lives
// in the Coordinator; this service only gets runs into the system.
type Service struct {
	runStorage interfaces.RunStorage
	queueMgr   interfaces.QueueManager
	logger     arbor.ILogger
}

// NewService creates a new run service
func NewService(runStorage interfaces.RunStorage, queueMgr interfaces.QueueManager, logger arbor.ILogger) *Service {
	return &Service{
		runStorage: runStorage,
		queueMgr:   queueMgr,
		logger:     logger,
	}
}

// CreateRun persists a new queued run and enqueues its message
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*models.Run, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var run *models.Run
	if req.ParentRunID != "" {
		parent, err := s.runStorage.GetRun(ctx, req.ParentRunID)
		if err != nil {
			return nil, fmt.Errorf("parent run lookup failed: %w", err)
		}
		run = models.NewChildRun(parent, req.FailParentOnFailure)
	} else {
		run = models.NewRun(req.ProjectID, req.PlatformID)
	}

	if err := s.runStorage.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	msg := models.RunMessage{
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Payload:   req.Payload,
	}
	if err := s.queueMgr.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}

	s.logger.Info().
		Str("run_id", run.ID).
		Str("project_id", run.ProjectID).
		Str("parent_run_id", run.GetParentRunID()).
		Msg("Run created and enqueued")

	return run, nil
}

// GetRun loads a run by ID
func (s *Service) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return s.runStorage.GetRun(ctx, runID)
}
