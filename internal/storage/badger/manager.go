package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	kv     interfaces.KeyValueStorage
	recent interfaces.RecentJobStorage
	result interfaces.ResultStorage
	logger arbor.ILogger
}

// NewManager opens the database and creates every store on it
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		kv:     NewKVStorage(db, logger),
		recent: NewRecentStorage(db, logger),
		result: NewResultStorage(db, logger),
		logger: logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// RecentJobStorage returns the recent-job storage interface
func (m *Manager) RecentJobStorage() interfaces.RecentJobStorage {
	return m.recent
}

// ResultStorage returns the result storage interface
func (m *Manager) ResultStorage() interfaces.ResultStorage {
	return m.result
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	if err := m.db.CollectGarbage(); err != nil {
		m.logger.Warn().Err(err).Msg("Value log garbage collection failed")
	}
	return m.db.Close()
}
