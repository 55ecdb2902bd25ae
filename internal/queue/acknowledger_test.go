package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/models"
)

// mockQueueManager implements interfaces.QueueManager
type mockQueueManager struct {
	ackCalls  []string
	failCalls []string
	lastToken string
	lastError string
	err       error
}

func (m *mockQueueManager) Enqueue(ctx context.Context, msg models.RunMessage) error { return m.err }

func (m *mockQueueManager) Receive(ctx context.Context) (*models.LeasedMessage, error) {
	return nil, models.ErrNoMessage
}

func (m *mockQueueManager) Ack(ctx context.Context, jobID, token string) error {
	m.ackCalls = append(m.ackCalls, jobID)
	m.lastToken = token
	return m.err
}

func (m *mockQueueManager) Fail(ctx context.Context, jobID, token, message string) error {
	m.failCalls = append(m.failCalls, jobID)
	m.lastToken = token
	m.lastError = message
	return m.err
}

func (m *mockQueueManager) Extend(ctx context.Context, jobID, token string, duration time.Duration) error {
	return m.err
}

func (m *mockQueueManager) Stats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (m *mockQueueManager) Close() error { return nil }

func TestAckCompletesTerminalAndPausedStatuses(t *testing.T) {
	completed := []models.RunStatus{
		models.RunStatusSucceeded,
		models.RunStatusFailed,
		models.RunStatusTimeout,
		models.RunStatusPaused,
		models.RunStatusQuotaExceeded,
		models.RunStatusMemoryLimitExceeded,
	}

	for _, status := range completed {
		t.Run(string(status), func(t *testing.T) {
			mock := &mockQueueManager{}
			ack := NewAcknowledger(mock, arbor.NewLogger())

			if err := ack.Ack(context.Background(), "job-1", status, "token-1", ""); err != nil {
				t.Fatalf("Ack returned error: %v", err)
			}
			if len(mock.ackCalls) != 1 || mock.ackCalls[0] != "job-1" {
				t.Errorf("expected one Ack call for job-1, got %v", mock.ackCalls)
			}
			if len(mock.failCalls) != 0 {
				t.Errorf("unexpected Fail calls: %v", mock.failCalls)
			}
			if mock.lastToken != "token-1" {
				t.Errorf("delivery token not passed through, got %q", mock.lastToken)
			}
		})
	}
}

func TestAckInternalErrorFailsJob(t *testing.T) {
	mock := &mockQueueManager{}
	ack := NewAcknowledger(mock, arbor.NewLogger())

	err := ack.Ack(context.Background(), "job-2", models.RunStatusInternalError, "token-2", "engine crashed: boom")
	if err != nil {
		t.Fatalf("Ack returned error: %v", err)
	}
	if len(mock.failCalls) != 1 || mock.failCalls[0] != "job-2" {
		t.Errorf("expected one Fail call for job-2, got %v", mock.failCalls)
	}
	if len(mock.ackCalls) != 0 {
		t.Errorf("unexpected Ack calls: %v", mock.ackCalls)
	}
	if mock.lastError != "engine crashed: boom" {
		t.Errorf("failure message not passed through, got %q", mock.lastError)
	}
}

func TestAckHeartbeatStatusesLeaveJobLeased(t *testing.T) {
	for _, status := range []models.RunStatus{models.RunStatusQueued, models.RunStatusRunning} {
		t.Run(string(status), func(t *testing.T) {
			mock := &mockQueueManager{}
			ack := NewAcknowledger(mock, arbor.NewLogger())

			if err := ack.Ack(context.Background(), "job-3", status, "token-3", ""); err != nil {
				t.Fatalf("Ack returned error: %v", err)
			}
			if len(mock.ackCalls) != 0 || len(mock.failCalls) != 0 {
				t.Errorf("heartbeat status must not touch the queue: acks=%v fails=%v", mock.ackCalls, mock.failCalls)
			}
		})
	}
}

func TestAckRejectsUnrecognizedStatus(t *testing.T) {
	mock := &mockQueueManager{}
	ack := NewAcknowledger(mock, arbor.NewLogger())

	if err := ack.Ack(context.Background(), "job-4", models.RunStatus("EXPLODED"), "token-4", ""); err == nil {
		t.Error("expected error for unrecognized status")
	}
}
