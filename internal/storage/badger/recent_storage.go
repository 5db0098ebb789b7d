package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
)

const recentListKey = "recent_jobs"

// recentList is stored as a single record so the order survives without a sort field
type recentList struct {
	Jobs []models.RecentJob
}

// RecentStorage implements RecentJobStorage for Badger
type RecentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecentStorage creates a new RecentStorage instance
func NewRecentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecentJobStorage {
	return &RecentStorage{
		db:     db,
		logger: logger,
	}
}

// Load returns the stored list, most recent first
func (s *RecentStorage) Load(ctx context.Context) ([]models.RecentJob, error) {
	var list recentList
	err := s.db.Store().Get(recentListKey, &list)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return []models.RecentJob{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recent jobs: %w", err)
	}
	return list.Jobs, nil
}

// Save replaces the stored list
func (s *RecentStorage) Save(ctx context.Context, jobs []models.RecentJob) error {
	list := recentList{Jobs: append([]models.RecentJob{}, jobs...)}
	if err := s.db.Store().Upsert(recentListKey, &list); err != nil {
		return fmt.Errorf("failed to save recent jobs: %w", err)
	}
	return nil
}
