package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// ErrInvalidToken is returned when a queue acknowledgment carries a stale
// or mismatched delivery token
var ErrInvalidToken = errors.New("delivery token does not match current lease")

// RunMessage is the structure stored in the queue.
// Keep it simple - just enough to route the run to a worker.
type RunMessage struct {
	RunID     string          `json:"run_id"`  // References runs.id
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload"` // Flow-specific data (passed through)
}

// LeasedMessage is a RunMessage handed to a worker together with proof of
// queue ownership. The delivery token must accompany any acknowledgment.
type LeasedMessage struct {
	JobID         string     `json:"job_id"`
	DeliveryToken string     `json:"delivery_token"`
	ReceiveCount  int        `json:"receive_count"`
	Message       RunMessage `json:"message"`
}
