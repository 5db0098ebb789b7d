package interfaces

import (
	"context"
	"io"

	"github.com/ternarybob/menulens/internal/models"
)

// ProgressFetcher returns the raw progress snapshot body of a job (pull channel source)
type ProgressFetcher interface {
	FetchProgress(ctx context.Context, jobID string) ([]byte, error)
}

// JobAPI is the processing backend as seen by the client. Everything here is an external collaborator.
type JobAPI interface {
	ProgressFetcher

	// Submit uploads the source image and returns the job ID assigned by the backend
	Submit(ctx context.Context, filename string, content io.Reader) (string, error)

	// FetchResult returns the persisted ResultSet of a job
	FetchResult(ctx context.Context, jobID string) (*models.ResultSet, error)

	// ListRecent returns up to limit recent jobs of the current identity, most-recent-first
	ListRecent(ctx context.Context, limit int) ([]models.RecentJob, error)

	// SocketURL returns the push channel endpoint for a job
	SocketURL(jobID string) (string, error)
}
