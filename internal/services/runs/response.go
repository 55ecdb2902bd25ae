package runs

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/relay/internal/models"
)

// Messages returned to callers blocked on a synchronous run response
const (
	msgInternalError = "An internal error has occurred"
	msgFlowFailed    = "The flow has failed and there is no response returned"
	msgTimeout       = "The request took too long to reply"
)

// responseForStatus maps a terminal run status to the synchronous payload
// owed to a waiting caller.
//
// RUNNING, SUCCEEDED and PAUSED never owe a response here; any other status
// outside the table is a contract violation in the caller and fails fast
// rather than stranding the waiter forever.
func responseForStatus(status models.RunStatus) (*models.EngineHTTPResponse, error) {
	switch status {
	case models.RunStatusInternalError:
		return &models.EngineHTTPResponse{
			Status:  http.StatusInternalServerError,
			Body:    map[string]interface{}{"message": msgInternalError},
			Headers: map[string]string{},
		}, nil

	case models.RunStatusFailed, models.RunStatusMemoryLimitExceeded:
		return &models.EngineHTTPResponse{
			Status:  http.StatusInternalServerError,
			Body:    map[string]interface{}{"message": msgFlowFailed},
			Headers: map[string]string{},
		}, nil

	case models.RunStatusTimeout:
		return &models.EngineHTTPResponse{
			Status:  http.StatusGatewayTimeout,
			Body:    map[string]interface{}{"message": msgTimeout},
			Headers: map[string]string{},
		}, nil

	case models.RunStatusQuotaExceeded:
		return &models.EngineHTTPResponse{
			Status:  http.StatusNoContent,
			Body:    map[string]interface{}{},
			Headers: map[string]string{},
		}, nil

	default:
		return nil, fmt.Errorf("no synchronous response defined for run status %q", status)
	}
}

// owesResponse returns true when a report owes a synchronous response to an
// external caller: a non-progress status with both routing IDs present.
func owesResponse(report *models.RunUpdateReport) bool {
	switch report.Status {
	case models.RunStatusRunning, models.RunStatusSucceeded, models.RunStatusPaused:
		return false
	}
	return report.WorkerHandlerID != "" && report.HTTPRequestID != ""
}
