package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"golang.org/x/time/rate"
)

// EventSubscriber bridges run lifecycle events onto the WebSocket fan-out
// with config-driven whitelist filtering and per-type throttling.
type EventSubscriber struct {
	handler       *WebSocketHandler
	eventService  interfaces.EventService
	logger        arbor.ILogger
	allowedEvents map[string]bool          // Whitelist of events to broadcast (empty = allow all)
	throttlers    map[string]*rate.Limiter // Rate limiters for high-frequency events
}

// NewEventSubscriber creates and initializes an event subscriber
func NewEventSubscriber(handler *WebSocketHandler, eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *EventSubscriber {
	s := &EventSubscriber{
		handler:      handler,
		eventService: eventService,
		logger:       logger,
	}

	s.allowedEvents = make(map[string]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			s.allowedEvents[eventType] = true
		}
	}

	s.throttlers = make(map[string]*rate.Limiter)
	if config != nil && len(config.ThrottleIntervals) > 0 {
		for eventType, intervalStr := range config.ThrottleIntervals {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				s.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
				logger.Debug().
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Throttler initialized for event type")
			} else {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - skipping throttler")
			}
		}
	}

	if eventService == nil {
		logger.Warn().Msg("EventSubscriber created with nil eventService - subscriptions will be skipped")
		return s
	}

	s.SubscribeAll()

	return s
}

// SubscribeAll registers subscriptions for all run lifecycle events
func (s *EventSubscriber) SubscribeAll() {
	if s.eventService == nil {
		s.logger.Warn().Msg("Cannot subscribe to events - eventService is nil")
		return
	}

	s.eventService.Subscribe(interfaces.EventRunProgress, s.bridge(interfaces.EventRunProgress))
	s.eventService.Subscribe(interfaces.EventRunCompleted, s.bridge(interfaces.EventRunCompleted))
	s.eventService.Subscribe(interfaces.EventRunFailed, s.bridge(interfaces.EventRunFailed))
	s.eventService.Subscribe(interfaces.EventRunPaused, s.bridge(interfaces.EventRunPaused))
	s.eventService.Subscribe(interfaces.EventRunCascade, s.bridge(interfaces.EventRunCascade))

	s.logger.Info().Msg("EventSubscriber registered for all run lifecycle events (progress, completed, failed, paused, cascade)")
}

// bridge returns a handler that relays an event type to the WebSocket
// clients subject to whitelist and throttling checks
func (s *EventSubscriber) bridge(eventType interfaces.EventType) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		if !s.shouldBroadcastEvent(string(eventType)) {
			return nil
		}
		s.handler.Broadcast(string(eventType), event.Payload)
		return nil
	}
}

// shouldBroadcastEvent checks if an event should be broadcast based on whitelist and throttling
func (s *EventSubscriber) shouldBroadcastEvent(eventType string) bool {
	// Check whitelist (empty allowedEvents = allow all)
	if len(s.allowedEvents) > 0 && !s.allowedEvents[eventType] {
		return false
	}

	if limiter, ok := s.throttlers[eventType]; ok {
		if !limiter.Allow() {
			s.logger.Debug().
				Str("event_type", eventType).
				Msg("Event throttled - rate limit exceeded")
			return false
		}
	}

	return true
}
