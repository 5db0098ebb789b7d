package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
)

type storedResult struct {
	JobID    string `badgerhold:"key"`
	Result   models.ResultSet
	StoredAt time.Time `badgerhold:"index"`
}

// ResultStorage implements interfaces.ResultStorage for Badger
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

// SaveResult inserts or replaces the result of rs.ID
func (s *ResultStorage) SaveResult(ctx context.Context, rs *models.ResultSet) error {
	if rs == nil || rs.ID == "" {
		return fmt.Errorf("result id is required")
	}
	record := storedResult{
		JobID:    rs.ID,
		Result:   *rs.Clone(),
		StoredAt: time.Now(),
	}
	if err := s.db.Store().Upsert(rs.ID, &record); err != nil {
		return fmt.Errorf("failed to save result %s: %w", rs.ID, err)
	}

	s.logger.Debug().Str("job_id", rs.ID).Int("records", len(rs.Records)).Msg("Result stored")
	return nil
}

// GetResult returns the stored result of jobID
func (s *ResultStorage) GetResult(ctx context.Context, jobID string) (*models.ResultSet, error) {
	var record storedResult
	err := s.db.Store().Get(jobID, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result %s: %w", jobID, err)
	}
	return &record.Result, nil
}

// DeleteResult removes the stored result of jobID
func (s *ResultStorage) DeleteResult(ctx context.Context, jobID string) error {
	err := s.db.Store().Delete(jobID, &storedResult{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete result %s: %w", jobID, err)
	}
	return nil
}
