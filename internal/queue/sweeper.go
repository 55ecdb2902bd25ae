package queue

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
)

// Sweeper runs periodic queue maintenance on a cron schedule: it samples
// queue depth and dead-letter counts so stuck or poison messages surface
// in the logs before anyone notices missing runs.
type Sweeper struct {
	queueMgr interfaces.QueueManager
	schedule string
	cron     *cron.Cron
	logger   arbor.ILogger
}

// NewSweeper creates a new queue sweeper
func NewSweeper(queueMgr interfaces.QueueManager, schedule string, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		queueMgr: queueMgr,
		schedule: schedule,
		logger:   logger,
	}
}

// Start begins the maintenance schedule
func (s *Sweeper) Start() error {
	if s.schedule == "" {
		s.logger.Debug().Msg("Queue sweeper disabled (no schedule configured)")
		return nil
	}

	s.cron = cron.New(cron.WithSeconds())
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule queue sweep: %w", err)
	}
	s.cron.Start()

	s.logger.Info().Str("schedule", s.schedule).Msg("Queue sweeper started")
	return nil
}

// Stop stops the maintenance schedule
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Sweeper) sweep() {
	stats, err := s.queueMgr.Stats(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Queue sweep failed to read stats")
		return
	}

	deadLetter, _ := stats["dead_letter"].(int)
	logEvent := s.logger.Debug()
	if deadLetter > 0 {
		logEvent = s.logger.Warn()
	}

	logEvent.
		Interface("stats", stats).
		Msg("Queue sweep")
}
