package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/httpclient"
	"github.com/ternarybob/relay/internal/interfaces"
	"golang.org/x/time/rate"
)

// Service implements CallbackService: it resolves callback addresses for
// suspended parent runs and delivers best-effort notifications to them.
type Service struct {
	callbackBaseURL string
	frontendURL     string
	client          *http.Client
	limiter         *rate.Limiter
	logger          arbor.ILogger
}

// NewService creates a new webhook callback service
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	timeout := 10 * time.Second
	if d, err := time.ParseDuration(config.Webhook.RequestTimeout); err == nil && d > 0 {
		timeout = d
	}

	// Rate-limit outbound deliveries so a burst of cascading failures
	// cannot flood the callback endpoint
	interval := 100 * time.Millisecond
	if d, err := time.ParseDuration(config.Webhook.RateLimit); err == nil && d > 0 {
		interval = d
	}

	return &Service{
		callbackBaseURL: strings.TrimRight(config.Webhook.CallbackBaseURL, "/"),
		frontendURL:     strings.TrimRight(config.Runs.FrontendURL, "/"),
		client:          httpclient.NewDefaultHTTPClient(timeout),
		limiter:         rate.NewLimiter(rate.Every(interval), 1),
		logger:          logger,
	}
}

// ResolveCallbackURL returns the address a suspended parent run is
// listening on for its pending webhook request
func (s *Service) ResolveCallbackURL(platformID, parentRunID, requestID string) string {
	return fmt.Sprintf("%s/v1/platforms/%s/runs/%s/requests/%s",
		s.callbackBaseURL, platformID, parentRunID, requestID)
}

// ResolveRunLink returns a human-facing link for a run
func (s *Service) ResolveRunLink(projectID, runID string) string {
	return fmt.Sprintf("%s/projects/%s/runs/%s", s.frontendURL, projectID, runID)
}

// Notify POSTs the notification to the callback URL. Delivery is
// best-effort: failures are returned for logging, never retried here.
func (s *Service) Notify(ctx context.Context, callbackURL string, notification interfaces.CascadeNotification) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("callback rate limit wait: %w", err)
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal callback notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback delivery rejected: %s", resp.Status)
	}

	s.logger.Debug().
		Str("url", callbackURL).
		Int("status", resp.StatusCode).
		Msg("Cascade callback delivered")

	return nil
}
