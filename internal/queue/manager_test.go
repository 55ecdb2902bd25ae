package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/relay/internal/models"
)

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *Manager {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr, err := NewManager(db, "test_runs", visibility, maxReceive)
	require.NoError(t, err)
	return mgr
}

func testMessage(runID string) models.RunMessage {
	return models.RunMessage{
		RunID:     runID,
		ProjectID: "proj-1",
		Payload:   json.RawMessage(`{"flow":"checkout"}`),
	}
}

func TestEnqueueReceiveAck(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	leased, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", leased.Message.RunID)
	require.Equal(t, 1, leased.ReceiveCount)
	require.NotEmpty(t, leased.DeliveryToken)

	require.NoError(t, mgr.Ack(ctx, leased.JobID, leased.DeliveryToken))

	// Queue is empty after ack
	_, err = mgr.Receive(ctx)
	require.ErrorIs(t, err, models.ErrNoMessage)
}

func TestReceiveOnEmptyQueue(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)

	_, err := mgr.Receive(context.Background())
	require.ErrorIs(t, err, models.ErrNoMessage)
}

func TestLeasedMessageIsInvisible(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	_, err := mgr.Receive(ctx)
	require.NoError(t, err)

	// Same message must not be leased twice while in flight
	_, err = mgr.Receive(ctx)
	require.ErrorIs(t, err, models.ErrNoMessage)
}

func TestAckWithWrongTokenRejected(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	leased, err := mgr.Receive(ctx)
	require.NoError(t, err)

	err = mgr.Ack(ctx, leased.JobID, "stale-token")
	require.ErrorIs(t, err, models.ErrInvalidToken)

	// The lease holder can still acknowledge
	require.NoError(t, mgr.Ack(ctx, leased.JobID, leased.DeliveryToken))
}

func TestExpiredLeaseTokenRejected(t *testing.T) {
	mgr := newTestQueue(t, 30*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	leased, err := mgr.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	// The lease has expired; the old token can no longer mutate the message
	err = mgr.Ack(ctx, leased.JobID, leased.DeliveryToken)
	require.ErrorIs(t, err, models.ErrInvalidToken)

	// The message is redelivered under a fresh token
	redelivered, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, leased.JobID, redelivered.JobID)
	require.Equal(t, 2, redelivered.ReceiveCount)
	require.NotEqual(t, leased.DeliveryToken, redelivered.DeliveryToken)
}

func TestFailMakesMessageRetryable(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	leased, err := mgr.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Fail(ctx, leased.JobID, leased.DeliveryToken, "engine crashed"))

	retried, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, leased.JobID, retried.JobID)
	require.Equal(t, 2, retried.ReceiveCount)
}

func TestPoisonMessageMovesToDeadLetter(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 2)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	for i := 0; i < 2; i++ {
		leased, err := mgr.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, mgr.Fail(ctx, leased.JobID, leased.DeliveryToken, "boom"))
	}

	// Receive limit reached - the message is dead-lettered, not redelivered
	_, err := mgr.Receive(ctx)
	require.ErrorIs(t, err, models.ErrNoMessage)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats["dead_letter"])
	require.Equal(t, 0, stats["ready"])
}

func TestExtendPushesOutVisibility(t *testing.T) {
	mgr := newTestQueue(t, 50*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	leased, err := mgr.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Extend(ctx, leased.JobID, leased.DeliveryToken, time.Minute))

	time.Sleep(80 * time.Millisecond)

	// Without the extension the lease would have expired by now
	require.NoError(t, mgr.Ack(ctx, leased.JobID, leased.DeliveryToken))
}

func TestAckAfterMessageGoneIsIdempotent(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	leased, err := mgr.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Ack(ctx, leased.JobID, leased.DeliveryToken))

	// Duplicate ack for an already-removed message is a safe no-op
	require.NoError(t, mgr.Ack(ctx, leased.JobID, leased.DeliveryToken))
}

func TestStatsCountsReadyAndInFlight(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))
	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-2")))

	_, err := mgr.Receive(ctx)
	require.NoError(t, err)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats["ready"])
	require.Equal(t, 1, stats["in_flight"])
}

func TestFIFOOrderForReadyMessages(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-a")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-b")))

	first, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-a", first.Message.RunID)

	second, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-b", second.Message.RunID)
}

func TestExtendWithWrongTokenRejected(t *testing.T) {
	mgr := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("run-1")))

	leased, err := mgr.Receive(ctx)
	require.NoError(t, err)

	err = mgr.Extend(ctx, leased.JobID, "stale-token", time.Minute)
	require.True(t, errors.Is(err, models.ErrInvalidToken))
}
