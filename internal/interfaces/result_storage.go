package interfaces

import (
	"context"

	"github.com/ternarybob/menulens/internal/models"
)

// ResultStorage keeps the last fetched final ResultSet of each job for offline re-attach
type ResultStorage interface {
	// SaveResult inserts or replaces the result of rs.ID
	SaveResult(ctx context.Context, rs *models.ResultSet) error

	// GetResult returns the stored result, ErrKeyNotFound when absent
	GetResult(ctx context.Context, jobID string) (*models.ResultSet, error)

	// DeleteResult removes the stored result of jobID
	DeleteResult(ctx context.Context, jobID string) error
}
