package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// Mock implementations

// mockRunStorage implements interfaces.RunStorage
type mockRunStorage struct {
	runs       map[string]*models.Run
	updates    []interfaces.RunUpdate
	logsFiles  map[string]string
	updateErr  error
	getErr     error
	updateHook func()
}

func newMockRunStorage() *mockRunStorage {
	return &mockRunStorage{
		runs:      make(map[string]*models.Run),
		logsFiles: make(map[string]string),
	}
}

func (m *mockRunStorage) SaveRun(ctx context.Context, run *models.Run) error {
	m.runs[run.ID] = run
	return nil
}

func (m *mockRunStorage) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if run, ok := m.runs[runID]; ok {
		return run, nil
	}
	return nil, fmt.Errorf("run not found: %s", runID)
}

func (m *mockRunStorage) UpdateRun(ctx context.Context, runID string, update interfaces.RunUpdate) (*models.Run, error) {
	if m.updateHook != nil {
		m.updateHook()
	}
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	m.updates = append(m.updates, update)
	if !run.Status.IsTerminal() {
		run.Status = update.Status
		if update.Status == models.RunStatusPaused {
			run.PauseMetadata = update.PauseMetadata
		} else {
			run.PauseMetadata = nil
		}
	}
	return run, nil
}

func (m *mockRunStorage) SetLogsFile(ctx context.Context, runID, fileID string) error {
	m.logsFiles[runID] = fileID
	return nil
}

// mockCallbackService implements interfaces.CallbackService
type mockCallbackService struct {
	notified     []interfaces.CascadeNotification
	notifiedURLs []string
	notifyErr    error
	frontendBase string
	callbackBase string
}

func (m *mockCallbackService) ResolveCallbackURL(platformID, parentRunID, requestID string) string {
	return fmt.Sprintf("%s/v1/platforms/%s/runs/%s/requests/%s", m.callbackBase, platformID, parentRunID, requestID)
}

func (m *mockCallbackService) ResolveRunLink(projectID, runID string) string {
	return fmt.Sprintf("%s/projects/%s/runs/%s", m.frontendBase, projectID, runID)
}

func (m *mockCallbackService) Notify(ctx context.Context, callbackURL string, notification interfaces.CascadeNotification) error {
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.notifiedURLs = append(m.notifiedURLs, callbackURL)
	m.notified = append(m.notified, notification)
	return nil
}

func pausedParent(id, requestID string) *models.Run {
	parent := models.NewRun("proj-1", "plat-1")
	parent.ID = id
	parent.Status = models.RunStatusPaused
	parent.PauseMetadata = &models.PauseMetadata{
		PauseType: models.PauseTypeWebhook,
		RequestID: requestID,
		HandlerID: "handler-1",
	}
	return parent
}

func TestCascadeNotifiesSuspendedParent(t *testing.T) {
	storage := newMockRunStorage()
	callbacks := &mockCallbackService{callbackBase: "http://engine", frontendBase: "http://ui"}
	notifier := NewCascadeNotifier(storage, callbacks, arbor.NewLogger())

	storage.runs["parent-1"] = pausedParent("parent-1", "req-9")

	err := notifier.Cascade(context.Background(), CascadeParams{
		ParentRunID: "parent-1",
		ChildRunID:  "child-1",
		ProjectID:   "proj-1",
		PlatformID:  "plat-1",
	})
	if err != nil {
		t.Fatalf("Cascade returned error: %v", err)
	}

	if len(callbacks.notified) != 1 {
		t.Fatalf("expected one notification, got %d", len(callbacks.notified))
	}

	url := callbacks.notifiedURLs[0]
	if !strings.Contains(url, "parent-1") || !strings.Contains(url, "req-9") {
		t.Errorf("callback URL missing parent run or request ID: %s", url)
	}

	n := callbacks.notified[0]
	if n.Status != "error" {
		t.Errorf("notification status: got %q, want %q", n.Status, "error")
	}
	if n.Data.Message != "The child flow run has failed" {
		t.Errorf("unexpected message: %q", n.Data.Message)
	}
	if !strings.Contains(n.Data.Link, "child-1") {
		t.Errorf("link should point at the failed child run: %s", n.Data.Link)
	}
}

func TestCascadeRejectsNonWebhookSuspension(t *testing.T) {
	storage := newMockRunStorage()
	callbacks := &mockCallbackService{}
	notifier := NewCascadeNotifier(storage, callbacks, arbor.NewLogger())

	parent := pausedParent("parent-1", "req-9")
	parent.PauseMetadata.PauseType = models.PauseTypeDelay
	storage.runs["parent-1"] = parent

	err := notifier.Cascade(context.Background(), CascadeParams{
		ParentRunID: "parent-1",
		ChildRunID:  "child-1",
	})
	if err == nil {
		t.Fatal("expected invariant violation error for delay-type suspension")
	}
	if len(callbacks.notified) != 0 {
		t.Error("no notification should be delivered on invariant violation")
	}
}

func TestCascadeRejectsParentWithoutPauseMetadata(t *testing.T) {
	storage := newMockRunStorage()
	notifier := NewCascadeNotifier(storage, &mockCallbackService{}, arbor.NewLogger())

	parent := models.NewRun("proj-1", "plat-1")
	parent.ID = "parent-1"
	parent.Status = models.RunStatusRunning
	storage.runs["parent-1"] = parent

	err := notifier.Cascade(context.Background(), CascadeParams{
		ParentRunID: "parent-1",
		ChildRunID:  "child-1",
	})
	if err == nil {
		t.Fatal("expected error when parent is not suspended")
	}
}

func TestCascadeDeliveryFailureIsAccepted(t *testing.T) {
	storage := newMockRunStorage()
	callbacks := &mockCallbackService{notifyErr: errors.New("connection refused")}
	notifier := NewCascadeNotifier(storage, callbacks, arbor.NewLogger())

	storage.runs["parent-1"] = pausedParent("parent-1", "req-9")

	// Best-effort delivery: a failed POST is logged, not propagated
	err := notifier.Cascade(context.Background(), CascadeParams{
		ParentRunID: "parent-1",
		ChildRunID:  "child-1",
	})
	if err != nil {
		t.Errorf("delivery failure should not be an error, got %v", err)
	}
}

func TestCascadeParentLookupFailure(t *testing.T) {
	storage := newMockRunStorage()
	notifier := NewCascadeNotifier(storage, &mockCallbackService{}, arbor.NewLogger())

	err := notifier.Cascade(context.Background(), CascadeParams{
		ParentRunID: "missing",
		ChildRunID:  "child-1",
	})
	if err == nil {
		t.Fatal("expected error when parent run cannot be loaded")
	}
}
