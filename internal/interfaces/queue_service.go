package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// QueueManager manages the persistent run queue.
// Receive leases a message and issues a delivery token; Ack and Fail
// verify the token against the current lease before mutating queue state.
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.RunMessage) error
	Receive(ctx context.Context) (*models.LeasedMessage, error)
	Ack(ctx context.Context, jobID, token string) error
	Fail(ctx context.Context, jobID, token, message string) error
	Extend(ctx context.Context, jobID, token string, duration time.Duration) error
	Stats(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// Acknowledger translates a run's reported status into a queue-level
// acknowledgment: complete, fail, or leave in-flight.
type Acknowledger interface {
	Ack(ctx context.Context, jobID string, status models.RunStatus, token, message string) error
}
