package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

var _ interfaces.JobStorage = (*JobStorage)(nil)

func (s *JobStorage) SaveJob(ctx context.Context, job *models.ScrapeJob) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) GetLatestJob(ctx context.Context) (*models.ScrapeJob, error) {
	var jobs []models.ScrapeJob
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrJobNotFound
	}
	return &jobs[0], nil
}

func (s *JobStorage) GetRunningJob(ctx context.Context) (*models.ScrapeJob, error) {
	var jobs []models.ScrapeJob
	query := badgerhold.Where("Status").Eq(models.JobStatusRunning).SortBy("StartedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to get running job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrJobNotFound
	}
	return &jobs[0], nil
}

// GetStaleJobs returns running jobs whose heartbeat is older than the
// threshold. A running job with a recent heartbeat is healthy and never
// returned here, so a live scrape is not affected by the sweep.
func (s *JobStorage) GetStaleJobs(ctx context.Context, thresholdMinutes int) ([]*models.ScrapeJob, error) {
	threshold := time.Now().Add(-time.Duration(thresholdMinutes) * time.Minute)

	var jobs []models.ScrapeJob
	query := badgerhold.Where("Status").Eq(models.JobStatusRunning).And("LastHeartbeat").Lt(threshold)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}

	result := make([]*models.ScrapeJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.ScrapeJob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrJobNotFound
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.ScrapeJob{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}
