package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// WaiterRegistry is a pub/sub keyed by (requestID, handlerID) that lets one
// external caller await a run's synchronous response and lets exactly one
// publisher deliver it.
//
// Publish is at-most-once per key: a second publish for an already-resolved
// or already-expired waiter is a no-op, not an error.
type WaiterRegistry interface {
	// Wait blocks until a response is published for the key, the timeout
	// elapses, or ctx is cancelled. On timeout/cancel the waiter is removed
	// and later publishes for the key are discarded.
	Wait(ctx context.Context, requestID, handlerID string, timeout time.Duration) (*models.EngineHTTPResponse, error)

	// Publish delivers the response to the waiter registered for the key,
	// if any. Returns true if a waiter received it.
	Publish(requestID, handlerID string, response *models.EngineHTTPResponse) bool

	Close() error
}
