package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/services/runs"
	"github.com/ternarybob/relay/internal/services/waiters"
)

// RunHandler exposes run lifecycle endpoints: creation, lookup, worker
// reports, and the synchronous response wait.
type RunHandler struct {
	runService  *runs.Service
	coordinator *runs.Coordinator
	waiters     interfaces.WaiterRegistry
	waitTimeout time.Duration
	logger      arbor.ILogger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runService *runs.Service, coordinator *runs.Coordinator, waiterRegistry interfaces.WaiterRegistry, config *common.Config, logger arbor.ILogger) *RunHandler {
	return &RunHandler{
		runService:  runService,
		coordinator: coordinator,
		waiters:     waiterRegistry,
		waitTimeout: config.Runs.GetWaitTimeout(),
		logger:      logger,
	}
}

// CreateRunHandler creates a new run and enqueues it
// POST /api/runs
func (h *RunHandler) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req runs.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	run, err := h.runService.CreateRun(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create run")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, run)
}

// GetRunHandler returns a run by ID
// GET /api/runs/{id}
func (h *RunHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.runService.GetRun(r.Context(), runID)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, run)
}

// UpdateRunHandler applies a worker-reported run update
// POST /api/runs/update
func (h *RunHandler) UpdateRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var report models.RunUpdateReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := report.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.coordinator.UpdateRun(r.Context(), &report)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("run_id", report.RunID).
			Str("status", string(report.Status)).
			Msg("Run update failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// WaitResponseHandler blocks the caller until a worker publishes the
// synchronous response for (request_id, handler_id), then replays it
// GET /api/responses/wait?request_id=...&handler_id=...
func (h *RunHandler) WaitResponseHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	requestID := r.URL.Query().Get("request_id")
	handlerID := r.URL.Query().Get("handler_id")
	if requestID == "" || handlerID == "" {
		WriteError(w, http.StatusBadRequest, "request_id and handler_id are required")
		return
	}

	response, err := h.waiters.Wait(r.Context(), requestID, handlerID, h.waitTimeout)
	if err != nil {
		if errors.Is(err, waiters.ErrWaitTimeout) {
			WriteError(w, http.StatusGatewayTimeout, "Timed out waiting for run response")
			return
		}
		// Caller disconnected or registry shut down
		h.logger.Debug().
			Err(err).
			Str("request_id", requestID).
			Msg("Response wait ended without delivery")
		return
	}

	for name, value := range response.Headers {
		w.Header().Set(name, value)
	}
	if response.Status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSON(w, response.Status, response.Body)
}
