package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/storage/badger"
)

// NewStorageManager opens the local store described by the [storage] section
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if config.Storage.Badger.Path == "" {
		return nil, fmt.Errorf("storage.badger.path is required")
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}
