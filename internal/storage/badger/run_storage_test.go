package badger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

func newTestRunStorage(t *testing.T) *RunStorage {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "relay-test"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRunStorage(db, logger)
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	loaded, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, run.ID, loaded.ID)
	require.Equal(t, models.RunStatusQueued, loaded.Status)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestRunStorage(t)

	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
}

func TestUpdateRunAccumulatesAccounting(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	_, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{
		Status:     models.RunStatusRunning,
		Tasks:      3,
		DurationMs: 100,
		Tags:       []string{"retry"},
	})
	require.NoError(t, err)

	updated, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{
		Status:     models.RunStatusSucceeded,
		Tasks:      2,
		DurationMs: 50,
		Tags:       []string{"retry", "final"},
	})
	require.NoError(t, err)

	require.Equal(t, 5, updated.TasksConsumed)
	require.Equal(t, int64(150), updated.DurationMs)
	require.ElementsMatch(t, []string{"retry", "final"}, updated.Tags)
}

func TestUpdateRunSetsTimestamps(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	running, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{Status: models.RunStatusRunning})
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	require.Nil(t, running.FinishedAt)

	startedAt := *running.StartedAt

	done, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{Status: models.RunStatusSucceeded})
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	// StartedAt is set on the first RUNNING report only
	require.Equal(t, startedAt, *done.StartedAt)
}

func TestTerminalRunIgnoresFurtherUpdates(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	_, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{
		Status:     models.RunStatusFailed,
		Tasks:      4,
		DurationMs: 200,
		Error:      "step exploded",
	})
	require.NoError(t, err)

	// Duplicate delivery of a terminal report: status AND accounting ignored
	after, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{
		Status:     models.RunStatusSucceeded,
		Tasks:      10,
		DurationMs: 999,
	})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, after.Status)
	require.Equal(t, 4, after.TasksConsumed)
	require.Equal(t, int64(200), after.DurationMs)
	require.Equal(t, "step exploded", after.Error)
}

func TestPauseMetadataPresentOnlyWhilePaused(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	paused, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{
		Status: models.RunStatusPaused,
		PauseMetadata: &models.PauseMetadata{
			PauseType: models.PauseTypeWebhook,
			RequestID: "req-9",
			HandlerID: "handler-2",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, paused.PauseMetadata)
	require.Equal(t, "req-9", paused.PauseMetadata.RequestID)

	// Resuming clears the pause metadata
	resumed, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{Status: models.RunStatusRunning})
	require.NoError(t, err)
	require.Nil(t, resumed.PauseMetadata)
}

func TestFailureDetailOverwrittenOnlyWhenReported(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	_, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{
		Status:         models.RunStatusRunning,
		FailedStepName: "charge-card",
		Error:          "declined",
	})
	require.NoError(t, err)

	// An update with empty failure fields must not erase earlier detail
	after, err := s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{Status: models.RunStatusRunning})
	require.NoError(t, err)
	require.Equal(t, "charge-card", after.FailedStepName)
	require.Equal(t, "declined", after.Error)
}

func TestSetLogsFile(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	require.NoError(t, s.SetLogsFile(ctx, run.ID, "logs_abc"))

	loaded, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "logs_abc", loaded.LogsFileID)
}

func TestConcurrentUpdatesSerialized(t *testing.T) {
	s := newTestRunStorage(t)
	ctx := context.Background()

	run := models.NewRun("proj-1", "plat-1")
	require.NoError(t, s.SaveRun(ctx, run))

	const writers = 10
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			s.UpdateRun(ctx, run.ID, interfaces.RunUpdate{
				Status: models.RunStatusRunning,
				Tasks:  1,
			})
		}()
	}
	wg.Wait()

	loaded, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, writers, loaded.TasksConsumed)
}
