package interfaces

import (
	"context"

	"github.com/ternarybob/menulens/internal/models"
)

// RecentJobStorage persists the recent-job list across restarts
type RecentJobStorage interface {
	// Load returns the stored entries most-recent-first; empty when nothing was stored
	Load(ctx context.Context) ([]models.RecentJob, error)

	// Save replaces the stored list
	Save(ctx context.Context, jobs []models.RecentJob) error
}
