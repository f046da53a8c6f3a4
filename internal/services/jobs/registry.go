package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/events"
	"github.com/ternarybob/permuto/internal/services/scraper"
)

// Registry owns the lifecycle of scrape jobs. At most one job runs per
// process: Start either claims the single running slot or fails with
// ErrJobAlreadyRunning. Jobs are persisted before the scrape goroutine
// launches, so a status query issued immediately after Start always finds
// the job.
//
// A cron sweep force-cancels persisted jobs stuck in status running with a
// stale heartbeat, which is what a job looks like after a process restart.
type Registry struct {
	orchestrator *scraper.Orchestrator
	jobStorage   interfaces.JobStorage
	eventService interfaces.EventService
	config       *common.JobsConfig
	logger       arbor.ILogger

	mu          sync.Mutex
	running     *models.ScrapeJob
	runCancel   context.CancelFunc
	progressMap map[string]*events.ProgressChannel

	cron *cron.Cron
}

// NewRegistry creates a job registry
func NewRegistry(
	orchestrator *scraper.Orchestrator,
	jobStorage interfaces.JobStorage,
	eventService interfaces.EventService,
	config *common.JobsConfig,
	logger arbor.ILogger,
) *Registry {
	return &Registry{
		orchestrator: orchestrator,
		jobStorage:   jobStorage,
		eventService: eventService,
		config:       config,
		logger:       logger,
		progressMap:  make(map[string]*events.ProgressChannel),
	}
}

// Start launches a scrape job with the given credential. The credential is
// handed to the run goroutine and never persisted. Returns the new job, or
// ErrJobAlreadyRunning when the running slot is taken.
func (r *Registry) Start(ctx context.Context, cred models.Credential) (*models.ScrapeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running != nil {
		return nil, interfaces.ErrJobAlreadyRunning
	}

	// A persisted running job from a previous process also blocks a new
	// start, unless its heartbeat marks it as dead.
	if persisted, err := r.jobStorage.GetRunningJob(ctx); err == nil {
		if !persisted.Stale(r.config.StaleThreshold(), time.Now()) {
			return nil, interfaces.ErrJobAlreadyRunning
		}
		r.logger.Warn().
			Str("job_id", persisted.ID).
			Msg("Force-cancelling stale running job before new start")
		r.forceCancel(ctx, persisted)
	} else if !errors.Is(err, interfaces.ErrJobNotFound) {
		return nil, fmt.Errorf("failed to check for running job: %w", err)
	}

	now := time.Now()
	job := &models.ScrapeJob{
		ID:            common.NewJobID(),
		Status:        models.JobStatusRunning,
		StartedAt:     now,
		LastHeartbeat: now,
	}

	if err := r.jobStorage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	progress := events.NewProgressChannel(job.ID, r.logger)
	r.progressMap = map[string]*events.ProgressChannel{job.ID: progress}

	runCtx, cancel := context.WithCancel(context.Background())
	r.running = job
	r.runCancel = cancel

	r.logger.Info().Str("job_id", job.ID).Msg("Scrape job started")
	r.publish(ctx, interfaces.EventJobStarted, job, progress)

	go r.run(runCtx, job, cred, progress)

	return job, nil
}

// run executes the scrape and settles the job into a terminal state.
func (r *Registry) run(ctx context.Context, job *models.ScrapeJob, cred models.Credential, progress *events.ProgressChannel) {
	defer func() {
		r.mu.Lock()
		r.running = nil
		r.runCancel = nil
		r.mu.Unlock()
	}()

	onProgress := func(j *models.ScrapeJob) {
		r.publish(ctx, interfaces.EventJobProgress, j, progress)
	}

	_, err := r.orchestrator.Run(ctx, job, cred, onProgress)

	now := time.Now()
	job.CompletedAt = now
	job.LastHeartbeat = now
	job.CurrentTarget = ""

	var eventType interfaces.EventType
	switch {
	case err == nil:
		job.Status = models.JobStatusCompleted
		eventType = interfaces.EventJobCompleted
		r.logger.Info().
			Str("job_id", job.ID).
			Int("mappings", job.TotalMappings).
			Int("failed_targets", len(job.FailedTargets)).
			Msg("Scrape job completed")
	case errors.Is(err, interfaces.ErrJobCancelled) || errors.Is(err, context.Canceled):
		job.Status = models.JobStatusCancelled
		eventType = interfaces.EventJobCancelled
		r.logger.Info().Str("job_id", job.ID).Msg("Scrape job cancelled")
	default:
		job.Status = models.JobStatusFailed
		job.Error = err.Error()
		eventType = interfaces.EventJobFailed
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("Scrape job failed")
	}

	// Persist with a background context: the run context may already be
	// cancelled and the terminal state must not be lost.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if saveErr := r.jobStorage.SaveJob(saveCtx, job); saveErr != nil {
		r.logger.Error().Err(saveErr).Str("job_id", job.ID).Msg("Failed to persist terminal job state")
	}

	r.publish(saveCtx, eventType, job, progress)
}

// GetJob returns a job by ID.
func (r *Registry) GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	return r.jobStorage.GetJob(ctx, jobID)
}

// GetLatestJob returns the most recently started job.
func (r *Registry) GetLatestJob(ctx context.Context) (*models.ScrapeJob, error) {
	return r.jobStorage.GetLatestJob(ctx)
}

// Cancel requests cooperative cancellation of a job. The orchestrator
// observes the flag at the next target boundary. Cancelling an already
// terminal job is a no-op.
func (r *Registry) Cancel(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	job, err := r.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		return job, nil
	}

	job.CancelRequested = true
	if err := r.jobStorage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist cancel request: %w", err)
	}

	r.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
	return job, nil
}

// ForceCancelStale marks every stale running job as cancelled and returns
// how many were swept. Healthy running jobs are never touched.
func (r *Registry) ForceCancelStale(ctx context.Context) (int, error) {
	stale, err := r.jobStorage.GetStaleJobs(ctx, r.config.StaleThresholdMinutes)
	if err != nil {
		return 0, err
	}

	for _, job := range stale {
		r.forceCancel(ctx, job)
	}

	if len(stale) > 0 {
		r.logger.Info().Int("count", len(stale)).Msg("Stale jobs force-cancelled")
	}
	return len(stale), nil
}

func (r *Registry) forceCancel(ctx context.Context, job *models.ScrapeJob) {
	job.Status = models.JobStatusCancelled
	job.Error = "force-cancelled: heartbeat stale"
	job.CompletedAt = time.Now()
	if err := r.jobStorage.SaveJob(ctx, job); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist force-cancel")
	}
}

// StartSweeper schedules the periodic stale-job sweep.
func (r *Registry) StartSweeper() error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.config.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := r.ForceCancelStale(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Stale-job sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", r.config.SweepSchedule, err)
	}
	r.cron.Start()
	r.logger.Info().Str("schedule", r.config.SweepSchedule).Msg("Stale-job sweeper started")
	return nil
}

// Stop cancels any running job's context and stops the sweeper.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.runCancel != nil {
		r.runCancel()
	}
	r.mu.Unlock()

	if r.cron != nil {
		ctx := r.cron.Stop()
		<-ctx.Done()
	}
}

// Progress returns the progress channel for a job, or nil when the job is
// unknown to this process.
func (r *Registry) Progress(jobID string) *events.ProgressChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progressMap[jobID]
}

// publish emits the event to both the per-job progress channel and the
// process-wide event service. Delivery is synchronous so subscribers see
// events in the order the run produced them; a terminal event can never
// overtake the progress event before it.
func (r *Registry) publish(ctx context.Context, eventType interfaces.EventType, job *models.ScrapeJob, progress *events.ProgressChannel) {
	payload := map[string]interface{}{
		"job_id":            job.ID,
		"status":            string(job.Status),
		"total_countries":   job.TotalCountries,
		"total_targets":     job.TotalTargets,
		"completed_targets": job.CompletedTargets,
		"current_target":    job.CurrentTarget,
		"total_mappings":    job.TotalMappings,
		"failed_targets":    len(job.FailedTargets),
		"error":             job.Error,
		"step":              job.CompletedTargets,
		"step_label":        job.CurrentTarget,
		"message":           eventMessage(eventType, job),
	}

	if job.Status.IsTerminal() {
		elapsed := time.Since(job.StartedAt)
		if !job.CompletedAt.IsZero() {
			elapsed = job.CompletedAt.Sub(job.StartedAt)
		}
		payload["result_summary"] = fmt.Sprintf("%d mappings across %d of %d targets, %d failed",
			job.TotalMappings, job.CompletedTargets, job.TotalTargets, len(job.FailedTargets))
		payload["elapsed_seconds"] = elapsed.Seconds()
		payload["cache_used"] = job.CacheHits > 0
	}

	event := interfaces.Event{Type: eventType, Payload: payload}

	progress.Emit(event)
	if err := r.eventService.PublishSync(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish job event")
	}
}

func eventMessage(eventType interfaces.EventType, job *models.ScrapeJob) string {
	switch eventType {
	case interfaces.EventJobStarted:
		return "Scrape job started"
	case interfaces.EventJobProgress:
		return fmt.Sprintf("Scraped %s (%d/%d)", job.CurrentTarget, job.CompletedTargets, job.TotalTargets)
	case interfaces.EventJobCompleted:
		return "Scrape job completed"
	case interfaces.EventJobCancelled:
		return "Scrape job cancelled"
	case interfaces.EventJobFailed:
		return "Scrape job failed: " + job.Error
	}
	return ""
}
