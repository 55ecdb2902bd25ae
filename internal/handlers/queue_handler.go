package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// QueueHandler exposes the worker-facing queue surface: dequeue with a
// delivery lease, lease extension, and queue depth stats.
type QueueHandler struct {
	queueMgr interfaces.QueueManager
	extendBy time.Duration
	logger   arbor.ILogger
}

// NewQueueHandler creates a new queue handler. Lease extensions push the
// visibility deadline out by extendBy from now.
func NewQueueHandler(queueMgr interfaces.QueueManager, extendBy time.Duration, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queueMgr: queueMgr,
		extendBy: extendBy,
		logger:   logger,
	}
}

// DequeueHandler leases the next visible run message to the calling worker
// POST /api/queue/dequeue
func (h *QueueHandler) DequeueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	leased, err := h.queueMgr.Receive(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrNoMessage) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error().Err(err).Msg("Dequeue failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, leased)
}

// ExtendHandler pushes out the visibility deadline of a leased job
// POST /api/queue/extend
func (h *QueueHandler) ExtendHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req struct {
		JobID         string `json:"job_id"`
		DeliveryToken string `json:"delivery_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.JobID == "" || req.DeliveryToken == "" {
		WriteError(w, http.StatusBadRequest, "job_id and delivery_token are required")
		return
	}

	if err := h.queueMgr.Extend(r.Context(), req.JobID, req.DeliveryToken, h.extendBy); err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			WriteError(w, http.StatusConflict, "Delivery lease is no longer held")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}

// StatsHandler returns queue depth counters
// GET /api/queue/stats
func (h *QueueHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.queueMgr.Stats(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}
