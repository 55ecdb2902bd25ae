package interfaces

import "context"

// CascadeNotification is the outbound body delivered to a parent run's
// pending webhook when a child run fails
type CascadeNotification struct {
	Status string              `json:"status"`
	Data   CascadeNotifyDetail `json:"data"`
}

// CascadeNotifyDetail carries the human-facing failure context
type CascadeNotifyDetail struct {
	Message string `json:"message"`
	Link    string `json:"link"`
}

// CallbackService resolves callback addresses for suspended parent runs and
// delivers best-effort notifications to them. Delivery failures are logged,
// not retried synchronously.
type CallbackService interface {
	// ResolveCallbackURL returns the address a suspended parent run is
	// listening on for {platformID, parentRunID, requestID}.
	ResolveCallbackURL(platformID, parentRunID, requestID string) string

	// ResolveRunLink returns a human-facing link for {projectID, runID}
	ResolveRunLink(projectID, runID string) string

	// Notify POSTs the notification to the callback URL, fire-and-forget
	Notify(ctx context.Context, callbackURL string, notification CascadeNotification) error
}
