package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
)

// Manager provides access to all Badger-backed storage services
type Manager struct {
	db         *BadgerDB
	runStorage *RunStorage
	logStorage *LogStorage
	logger     arbor.ILogger
}

// NewManager creates a new storage manager
func NewManager(logger arbor.ILogger, config *common.Config) (*Manager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger: %w", err)
	}

	return &Manager{
		db:         db,
		runStorage: NewRunStorage(db, logger),
		logStorage: NewLogStorage(db, logger, config.Runs.UploadBaseURL),
		logger:     logger,
	}, nil
}

// DB returns the underlying database connection (shared with the queue)
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// RunStorage returns the run storage service
func (m *Manager) RunStorage() interfaces.RunStorage {
	return m.runStorage
}

// LogStorage returns the log storage service
func (m *Manager) LogStorage() interfaces.LogStorage {
	return m.logStorage
}

// Close closes the storage manager
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
