package waiters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/models"
)

// ErrWaitTimeout is returned when no response arrives within the bounded wait
var ErrWaitTimeout = errors.New("timed out waiting for run response")

// ErrWaiterClosed is returned when the registry is shut down while waiting
var ErrWaiterClosed = errors.New("waiter registry closed")

// slot is a one-shot delivery channel for a registered waiter.
// The buffer of 1 lets Publish hand off without blocking.
type slot struct {
	ch chan *models.EngineHTTPResponse
}

// Registry implements the WaiterRegistry interface with an in-memory map.
//
// Keys are (requestID, handlerID) pairs. Publish is at-most-once per key:
// delivery removes the slot, so a duplicate publish finds nothing and is a
// no-op. A waiter that times out or is cancelled also removes its slot, so
// late publishes for that key are discarded rather than delivered.
//
// Note the registry is process-local. With more than one coordinator
// instance the same contract has to be carried over a shared broker; the
// handlerID exists so a publisher can address the instance that holds the
// waiter.
type Registry struct {
	slots  map[string]*slot
	mu     sync.Mutex
	closed bool
	logger arbor.ILogger
}

// NewRegistry creates a new response waiter registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		slots:  make(map[string]*slot),
		logger: logger,
	}
}

func waiterKey(requestID, handlerID string) string {
	return requestID + ":" + handlerID
}

// Wait blocks until a response is published for (requestID, handlerID),
// the timeout elapses, or ctx is cancelled.
func (r *Registry) Wait(ctx context.Context, requestID, handlerID string, timeout time.Duration) (*models.EngineHTTPResponse, error) {
	key := waiterKey(requestID, handlerID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrWaiterClosed
	}
	if _, exists := r.slots[key]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("waiter already registered for request %s", requestID)
	}
	s := &slot{ch: make(chan *models.EngineHTTPResponse, 1)}
	r.slots[key] = s
	r.mu.Unlock()

	r.logger.Debug().
		Str("request_id", requestID).
		Str("handler_id", handlerID).
		Dur("timeout", timeout).
		Msg("Waiter registered")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-s.ch:
		return response, nil

	case <-timer.C:
		r.remove(key, s)
		r.logger.Debug().
			Str("request_id", requestID).
			Str("handler_id", handlerID).
			Msg("Waiter timed out")
		return nil, ErrWaitTimeout

	case <-ctx.Done():
		r.remove(key, s)
		r.logger.Debug().
			Str("request_id", requestID).
			Str("handler_id", handlerID).
			Msg("Waiter cancelled by caller")
		return nil, ctx.Err()
	}
}

// Publish delivers a response to the waiter registered for the key.
// Returns true if a waiter received it; a publish against a missing,
// resolved, or expired key is a no-op and returns false.
func (r *Registry) Publish(requestID, handlerID string, response *models.EngineHTTPResponse) bool {
	key := waiterKey(requestID, handlerID)

	r.mu.Lock()
	s, ok := r.slots[key]
	if ok {
		delete(r.slots, key)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug().
			Str("request_id", requestID).
			Str("handler_id", handlerID).
			Msg("No waiter for published response - discarding")
		return false
	}

	s.ch <- response

	r.logger.Debug().
		Str("request_id", requestID).
		Str("handler_id", handlerID).
		Int("status", response.Status).
		Msg("Response published to waiter")
	return true
}

// remove discards a slot if it is still the one registered for the key.
// A publish may have already removed it; the slot's buffered response is
// then simply dropped with the waiter.
func (r *Registry) remove(key string, s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.slots[key]; ok && current == s {
		delete(r.slots, key)
	}
}

// Close shuts down the registry and discards all pending waiters
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.slots = make(map[string]*slot)
	return nil
}
