package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/handlers"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/services/events"
	"github.com/ternarybob/relay/internal/services/runs"
	"github.com/ternarybob/relay/internal/services/waiters"
	"github.com/ternarybob/relay/internal/services/webhooks"
	storage "github.com/ternarybob/relay/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *storage.Manager

	// Queue layer
	QueueManager interfaces.QueueManager
	Acknowledger interfaces.Acknowledger
	Sweeper      *queue.Sweeper

	// Event-driven services
	EventService   interfaces.EventService
	WaiterRegistry interfaces.WaiterRegistry

	// Run coordination
	CallbackService interfaces.CallbackService
	Cascade         *runs.CascadeNotifier
	Coordinator     *runs.Coordinator
	RunService      *runs.Service

	// HTTP handlers
	APIHandler   *handlers.APIHandler
	RunHandler   *handlers.RunHandler
	QueueHandler *handlers.QueueHandler
	WSHandler    *handlers.WebSocketHandler

	eventSubscriber *handlers.EventSubscriber
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("queue", cfg.Queue.QueueName).
		Str("storage_path", cfg.Storage.Badger.Path).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger)
func (a *App) initStorage() error {
	manager, err := storage.NewManager(a.Logger, a.Config)
	if err != nil {
		return err
	}

	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes business services in dependency order
func (a *App) initServices() error {
	// Queue shares the Badger connection with the run store
	queueMgr, err := queue.NewManager(
		a.StorageManager.DB().Store().Badger(),
		a.Config.Queue.QueueName,
		a.Config.Queue.GetVisibilityTimeout(),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueMgr
	a.Acknowledger = queue.NewAcknowledger(queueMgr, a.Logger)
	a.Sweeper = queue.NewSweeper(queueMgr, a.Config.Queue.SweepSchedule, a.Logger)

	a.EventService = events.NewService(a.Logger)
	a.WaiterRegistry = waiters.NewRegistry(a.Logger)

	a.CallbackService = webhooks.NewService(a.Config, a.Logger)
	a.Cascade = runs.NewCascadeNotifier(a.StorageManager.RunStorage(), a.CallbackService, a.Logger)

	a.Coordinator = runs.NewCoordinator(
		a.StorageManager.RunStorage(),
		a.StorageManager.LogStorage(),
		a.WaiterRegistry,
		a.Acknowledger,
		a.Cascade,
		a.EventService,
		a.Logger,
	)

	a.RunService = runs.NewService(a.StorageManager.RunStorage(), a.QueueManager, a.Logger)

	return nil
}

// initHandlers initializes HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.WSHandler = handlers.NewWebSocketHandler(a.Logger)
	a.RunHandler = handlers.NewRunHandler(a.RunService, a.Coordinator, a.WaiterRegistry, a.Config, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.QueueManager, a.Config.Queue.GetVisibilityTimeout(), a.Logger)

	a.eventSubscriber = handlers.NewEventSubscriber(a.WSHandler, a.EventService, a.Logger, &a.Config.WebSocket)
}

// Start launches background services
func (a *App) Start() error {
	if err := a.Sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start queue sweeper: %w", err)
	}
	return nil
}

// Shutdown stops background services and releases resources.
// Order matters: unblock waiters first so in-flight HTTP requests
// drain, then stop the sweeper, then close the queue and storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Shutting down application...")

	if a.WaiterRegistry != nil {
		a.WaiterRegistry.Close()
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue manager close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("storage close failed: %w", err)
		}
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
