package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/models"
)

// queuedMessage is the internal structure stored in Badger
type queuedMessage struct {
	ID            string            `json:"id"`
	Body          models.RunMessage `json:"body"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	VisibleAt     time.Time         `json:"visible_at"`
	ReceiveCount  int               `json:"receive_count"`
	DeliveryToken string            `json:"delivery_token,omitempty"` // Current lease token, empty when not leased
	LastError     string            `json:"last_error,omitempty"`
}

// Manager implements a persistent queue using BadgerDB.
//
// Each Receive issues a fresh delivery token; Ack, Fail and Extend verify
// the token against the current lease so a worker whose lease expired (and
// whose message was redelivered) cannot mutate queue state.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewManager creates a new Badger-backed queue manager
func NewManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute // Default
	}
	if maxReceive <= 0 {
		maxReceive = 3 // Default
	}

	return &Manager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a message to the queue
func (m *Manager) Enqueue(ctx context.Context, msg models.RunMessage) error {
	id := uuid.New().String()

	qMsg := queuedMessage{
		ID:           id,
		Body:         msg,
		EnqueuedAt:   time.Now(),
		VisibleAt:    time.Now(), // Immediately visible
		ReceiveCount: 0,
	}

	data, err := json.Marshal(qMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	// Message data lives at queue:{name}:msg:{id}; a visibility index at
	// queue:{name}:index:{visibleAt}:{id} allows efficient ready scans.
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, id), []byte{})
	})
}

// Receive leases the next visible message and issues a delivery token
func (m *Manager) Receive(ctx context.Context) (*models.LeasedMessage, error) {
	var leased *models.LeasedMessage

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue // Skip invalid keys
			}

			if ts.After(now) {
				// Keys are sorted by timestamp - nothing later is ready either
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Index exists but message doesn't - clean up the index
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var qMsg queuedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qMsg)
			}); err != nil {
				return err
			}

			if qMsg.ReceiveCount >= m.maxReceive {
				// Poison message - move to dead-letter instead of looping
				if err := m.deadLetter(txn, key, &qMsg); err != nil {
					return err
				}
				continue
			}

			// Claim: bump receive count, push visibility out, mint a token
			qMsg.ReceiveCount++
			qMsg.VisibleAt = now.Add(m.visibilityTimeout)
			qMsg.DeliveryToken = common.NewDeliveryToken()

			newData, err := json.Marshal(qMsg)
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(id), newData); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(qMsg.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			leased = &models.LeasedMessage{
				JobID:         id,
				DeliveryToken: qMsg.DeliveryToken,
				ReceiveCount:  qMsg.ReceiveCount,
				Message:       qMsg.Body,
			}
			return nil
		}

		return models.ErrNoMessage
	})

	if err != nil {
		return nil, err
	}
	return leased, nil
}

// Ack completes a leased message and removes it from the queue.
// A message that is already gone is treated as acknowledged.
func (m *Manager) Ack(ctx context.Context, jobID, token string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		qMsg, err := m.verifyLease(txn, jobID, token)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already acknowledged
			}
			return err
		}

		if err := txn.Delete(m.indexKey(qMsg.VisibleAt, jobID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(m.msgKey(jobID))
	})
}

// Fail marks a leased message as failed. The message becomes immediately
// visible again for retry, or moves to the dead-letter set once the
// receive limit is reached.
func (m *Manager) Fail(ctx context.Context, jobID, token, message string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		qMsg, err := m.verifyLease(txn, jobID, token)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already gone
			}
			return err
		}

		oldIndexKey := m.indexKey(qMsg.VisibleAt, jobID)

		if qMsg.ReceiveCount >= m.maxReceive {
			qMsg.LastError = message
			return m.deadLetter(txn, oldIndexKey, qMsg)
		}

		// Release the lease and make the message immediately retryable
		qMsg.VisibleAt = time.Now()
		qMsg.DeliveryToken = ""
		qMsg.LastError = message

		newData, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(jobID), newData); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, jobID), []byte{})
	})
}

// Extend extends the lease for a message the caller still owns
func (m *Manager) Extend(ctx context.Context, jobID, token string, duration time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		qMsg, err := m.verifyLease(txn, jobID, token)
		if err != nil {
			return err
		}

		oldVisibleAt := qMsg.VisibleAt
		qMsg.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(jobID), newData); err != nil {
			return err
		}
		if err := txn.Delete(m.indexKey(oldVisibleAt, jobID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, jobID), []byte{})
	})
}

// Stats returns queue depth counters
func (m *Manager) Stats(ctx context.Context) (map[string]interface{}, error) {
	ready := 0
	inflight := 0
	deadLetter := 0

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		indexPrefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		for it.Seek(indexPrefix); it.ValidForPrefix(indexPrefix); it.Next() {
			ts, _, err := m.parseIndexKey(it.Item().Key())
			if err != nil {
				continue
			}
			if ts.After(now) {
				inflight++
			} else {
				ready++
			}
		}

		dlqPrefix := []byte(fmt.Sprintf("queue:%s:dlq:", m.queueName))
		for it.Seek(dlqPrefix); it.ValidForPrefix(dlqPrefix); it.Next() {
			deadLetter++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"ready":       ready,
		"in_flight":   inflight,
		"dead_letter": deadLetter,
	}, nil
}

// Close closes the queue manager (no-op, DB is managed externally)
func (m *Manager) Close() error {
	return nil
}

// verifyLease loads a message and checks the caller's delivery token against
// the current lease. A mismatched token or an expired lease is rejected.
func (m *Manager) verifyLease(txn *badger.Txn, jobID, token string) (*queuedMessage, error) {
	item, err := txn.Get(m.msgKey(jobID))
	if err != nil {
		return nil, err
	}

	var qMsg queuedMessage
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &qMsg)
	}); err != nil {
		return nil, err
	}

	if qMsg.DeliveryToken == "" || qMsg.DeliveryToken != token {
		return nil, models.ErrInvalidToken
	}
	if time.Now().After(qMsg.VisibleAt) {
		// Lease expired - the message is eligible for redelivery under a new token
		return nil, models.ErrInvalidToken
	}

	return &qMsg, nil
}

// deadLetter moves a message out of the active queue
func (m *Manager) deadLetter(txn *badger.Txn, indexKey []byte, qMsg *queuedMessage) error {
	data, err := json.Marshal(qMsg)
	if err != nil {
		return err
	}
	if err := txn.Set(m.dlqKey(qMsg.ID), data); err != nil {
		return err
	}
	if err := txn.Delete(indexKey); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return txn.Delete(m.msgKey(qMsg.ID))
}

// Helpers

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) dlqKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dlq:%s", m.queueName, id))
}

func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	ts := visibleAt.UnixNano()
	// Zero pad to 20 digits so string sorting works like number sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, ts, id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", m.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	// Suffix is "{20-digit-ts}:{id}"
	if len(suffix) < 21 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
