package interfaces

import (
	"context"

	"github.com/ternarybob/permuto/internal/models"
)

// JobStorage persists scrape jobs so job state survives a process restart.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.ScrapeJob) error
	GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error)
	// GetLatestJob returns the most recently started job, or ErrJobNotFound.
	GetLatestJob(ctx context.Context) (*models.ScrapeJob, error)
	// GetRunningJob returns the job currently in status running, or
	// ErrJobNotFound when no job is running.
	GetRunningJob(ctx context.Context) (*models.ScrapeJob, error)
	// GetStaleJobs returns running jobs whose last heartbeat is older than
	// the given threshold in minutes.
	GetStaleJobs(ctx context.Context, thresholdMinutes int) ([]*models.ScrapeJob, error)
	DeleteJob(ctx context.Context, jobID string) error
	CountJobs(ctx context.Context) (int, error)
}

// CacheStorage persists cache entries keyed by query fingerprint.
type CacheStorage interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) error
	// DeleteClass removes all entries of one TTL class and returns the keys
	// removed.
	DeleteClass(ctx context.Context, class models.TTLClass) ([]string, error)
	// DeleteAll removes every entry and returns the keys removed.
	DeleteAll(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}
