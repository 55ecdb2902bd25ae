package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger.
//
// UpdateRun applies each update under per-run mutual exclusion so two
// concurrent worker reports for the same run cannot interleave partial
// writes. A report against an already-terminal run is a no-op for both
// status and accounting (full idempotence for duplicate deliveries).
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	locks  sync.Map // runID -> *sync.Mutex
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) *RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RunStorage) runLock(runID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(runID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// SaveRun persists a new run record
func (s *RunStorage) SaveRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun loads a run by ID
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var run models.Run
	if err := s.db.Store().Get(runID, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// UpdateRun applies a worker-reported update and returns the updated record.
// Once a run is terminal it accepts no further updates; the stored record
// is returned unchanged so callers can still acknowledge duplicates.
func (s *RunStorage) UpdateRun(ctx context.Context, runID string, update interfaces.RunUpdate) (*models.Run, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.IsTerminal() {
		s.logger.Debug().
			Str("run_id", runID).
			Str("status", string(run.Status)).
			Str("reported", string(update.Status)).
			Msg("Ignoring update for terminal run")
		return run, nil
	}

	// Accounting accumulates monotonically across updates
	run.TasksConsumed += update.Tasks
	run.DurationMs += update.DurationMs
	run.Tags = mergeTags(run.Tags, update.Tags)

	if update.FailedStepName != "" {
		run.FailedStepName = update.FailedStepName
	}
	if update.Error != "" {
		run.Error = update.Error
	}

	now := time.Now()
	run.Status = update.Status
	switch {
	case update.Status == models.RunStatusRunning:
		if run.StartedAt == nil {
			run.StartedAt = &now
		}
	case update.Status.IsTerminal():
		run.FinishedAt = &now
	}

	// Pause metadata is present only while the run is PAUSED
	if update.Status == models.RunStatusPaused {
		run.PauseMetadata = update.PauseMetadata
	} else {
		run.PauseMetadata = nil
	}

	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}

	return run, nil
}

// SetLogsFile records the run's execution log file reference
func (s *RunStorage) SetLogsFile(ctx context.Context, runID, fileID string) error {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.LogsFileID == fileID {
		return nil
	}

	run.LogsFileID = fileID
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to set logs file: %w", err)
	}
	return nil
}

func mergeTags(existing, reported []string) []string {
	if len(reported) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	merged := existing
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range reported {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}
