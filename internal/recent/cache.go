package recent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
)

// DefaultCapacity is the number of recently completed jobs remembered
const DefaultCapacity = 3

// Lister returns recent jobs from the backend; used once to seed an empty cache
type Lister interface {
	ListRecent(ctx context.Context, limit int) ([]models.RecentJob, error)
}

// Cache is a bounded most-recent-first list of completed jobs.
// Changes are persisted on a background goroutine so callers holding locks are never blocked on I/O.
type Cache struct {
	logger   arbor.ILogger
	store    interfaces.RecentJobStorage
	capacity int
	now      func() time.Time

	mu           sync.Mutex
	entries      []models.RecentJob
	bootstrapped bool
	version      uint64

	persistMu    sync.Mutex
	savedVersion uint64
	pending      sync.WaitGroup
}

// NewCache creates an empty cache. store may be nil for a memory-only cache.
func NewCache(capacity int, store interfaces.RecentJobStorage, logger arbor.ILogger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		logger:   logger,
		store:    store,
		capacity: capacity,
		now:      time.Now,
	}
}

// Load replaces the in-memory list with the persisted one
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	jobs, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load recent jobs: %w", err)
	}

	c.mu.Lock()
	c.entries = c.trim(dedupe(jobs))
	count := len(c.entries)
	c.mu.Unlock()

	c.logger.Debug().Int("count", count).Msg("Recent jobs loaded")
	return nil
}

// Bootstrap seeds an empty cache from the backend. It runs at most once per cache and
// returns whether anything was added.
func (c *Cache) Bootstrap(ctx context.Context, lister Lister) (bool, error) {
	c.mu.Lock()
	if c.bootstrapped || len(c.entries) > 0 {
		c.bootstrapped = true
		c.mu.Unlock()
		return false, nil
	}
	c.bootstrapped = true
	c.mu.Unlock()

	jobs, err := lister.ListRecent(ctx, c.capacity)
	if err != nil {
		return false, fmt.Errorf("failed to list recent jobs: %w", err)
	}

	c.mu.Lock()
	if len(c.entries) > 0 || len(jobs) == 0 {
		c.mu.Unlock()
		return false, nil
	}
	c.entries = c.trim(dedupe(jobs))
	snapshot, version := c.snapshotLocked()
	c.mu.Unlock()

	c.persistAsync(snapshot, version)
	return true, nil
}

// RecordCompleted pushes a job that just reached completed
func (c *Cache) RecordCompleted(jobID, title string) {
	c.Push(jobID, title)
}

// Push moves jobID to the front and reports whether the list order changed. When the job is
// already the head only a new non-empty title is taken.
func (c *Cache) Push(jobID, title string) bool {
	if jobID == "" {
		return false
	}

	c.mu.Lock()
	if len(c.entries) > 0 && c.entries[0].JobID == jobID {
		if title == "" || c.entries[0].Title == title {
			c.mu.Unlock()
			return false
		}
		c.entries[0].Title = title
		snapshot, version := c.snapshotLocked()
		c.mu.Unlock()
		c.persistAsync(snapshot, version)
		return false
	}

	next := make([]models.RecentJob, 0, len(c.entries)+1)
	next = append(next, models.RecentJob{JobID: jobID, Title: title, CompletedAt: c.now()})
	for _, e := range c.entries {
		if e.JobID != jobID {
			next = append(next, e)
		}
	}
	c.entries = c.trim(next)
	snapshot, version := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Debug().Str("job_id", jobID).Str("title", title).Msg("Recent job recorded")
	c.persistAsync(snapshot, version)
	return true
}

// List returns a copy of the entries, most recent first
func (c *Cache) List() []models.RecentJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.RecentJob{}, c.entries...)
}

// Wait blocks until every scheduled save finished
func (c *Cache) Wait() {
	c.pending.Wait()
}

func (c *Cache) snapshotLocked() ([]models.RecentJob, uint64) {
	c.version++
	return append([]models.RecentJob{}, c.entries...), c.version
}

func (c *Cache) persistAsync(snapshot []models.RecentJob, version uint64) {
	if c.store == nil {
		return
	}
	c.pending.Add(1)
	common.SafeGo(c.logger, "recent-persist", func() {
		defer c.pending.Done()
		c.persist(snapshot, version)
	})
}

// persist writes snapshot unless a newer one was already saved
func (c *Cache) persist(snapshot []models.RecentJob, version uint64) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if version <= c.savedVersion {
		return
	}
	if err := c.store.Save(context.Background(), snapshot); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist recent jobs")
		return
	}
	c.savedVersion = version
}

func (c *Cache) trim(jobs []models.RecentJob) []models.RecentJob {
	if len(jobs) > c.capacity {
		return jobs[:c.capacity]
	}
	return jobs
}

func dedupe(jobs []models.RecentJob) []models.RecentJob {
	seen := make(map[string]struct{}, len(jobs))
	out := make([]models.RecentJob, 0, len(jobs))
	for _, j := range jobs {
		if j.JobID == "" {
			continue
		}
		if _, ok := seen[j.JobID]; ok {
			continue
		}
		seen[j.JobID] = struct{}{}
		out = append(out, j)
	}
	return out
}
