package scraper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/cache"
	"github.com/ternarybob/permuto/internal/services/session"
)

// ProgressFunc receives job progress snapshots during a run.
type ProgressFunc func(job *models.ScrapeJob)

// Orchestrator runs the bulk scrape pipeline: discover the country and
// university index, then walk every university and collect its module
// mappings. Cached targets are served without touching the portal; live
// requests go through the rate limiter. One failing university does not
// abort the run.
type Orchestrator struct {
	sessions      *session.Controller
	driver        interfaces.PortalDriver
	cache         *cache.Service
	jobStorage    interfaces.JobStorage
	rateLimiter   *RateLimiter
	retry         *RetryPolicy
	approvedYears []string
	logger        arbor.ILogger
}

// NewOrchestrator creates a scrape orchestrator
func NewOrchestrator(
	sessions *session.Controller,
	driver interfaces.PortalDriver,
	cacheService *cache.Service,
	jobStorage interfaces.JobStorage,
	config *common.ScraperConfig,
	logger arbor.ILogger,
) (*Orchestrator, error) {
	minDelay, err := config.MinDelayDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid min_delay: %w", err)
	}
	maxDelay, err := config.MaxDelayDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid max_delay: %w", err)
	}

	retry := NewRetryPolicy()
	if config.MaxAttempts > 0 {
		retry.MaxAttempts = config.MaxAttempts
	}
	retry.InitialBackoff = config.RetryBackoffDuration()

	return &Orchestrator{
		sessions:      sessions,
		driver:        driver,
		cache:         cacheService,
		jobStorage:    jobStorage,
		rateLimiter:   NewRateLimiter(minDelay, maxDelay),
		retry:         retry,
		approvedYears: config.ApprovedYears,
		logger:        logger,
	}, nil
}

// Run executes a full scrape for the given job. The job must already be
// persisted in status running; Run mutates its progress fields and saves it
// after every target so the heartbeat stays fresh. The credential lives
// only on this call stack.
//
// Returns the scraped dataset, or context/cancellation errors. Per-target
// failures are recorded on the job and do not abort the run.
func (o *Orchestrator) Run(ctx context.Context, job *models.ScrapeJob, cred models.Credential, onProgress ProgressFunc) (*models.ScrapedDataset, error) {
	if err := o.sessions.EnsureOnSearchSurface(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to establish portal session: %w", err)
	}

	countries, fromCache, err := o.discoverIndex(ctx)
	if err != nil {
		return nil, err
	}
	if fromCache {
		job.CacheHits++
	}

	targets := buildTargets(countries)

	job.TotalCountries = len(countries)
	job.TotalTargets = len(targets)
	job.LastHeartbeat = time.Now()
	o.saveProgress(ctx, job, onProgress)

	o.logger.Info().
		Str("job_id", job.ID).
		Int("countries", len(countries)).
		Int("targets", len(targets)).
		Msg("Scrape targets resolved")

	dataset := &models.ScrapedDataset{
		Countries: countries,
		Mappings:  make(map[string][]models.ModuleMapping, len(targets)),
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cancelled, err := o.cancelRequested(ctx, job.ID)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to read cancellation flag")
		}
		if cancelled || job.CancelRequested {
			job.CancelRequested = true
			o.logger.Info().Str("job_id", job.ID).Msg("Cancellation requested, stopping scrape")
			return dataset, interfaces.ErrJobCancelled
		}

		job.CurrentTarget = target.university
		mappings, fromCache, err := o.scrapeTarget(ctx, target, cred)
		if err != nil {
			o.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("university", target.university).
				Str("country", target.country).
				Msg("Target scrape failed, continuing")
			job.FailedTargets = append(job.FailedTargets, target.university)
			dataset.FailedTargets = append(dataset.FailedTargets, target.university)
		} else {
			dataset.Mappings[target.university] = mappings
			job.TotalMappings += len(mappings)
			if fromCache {
				job.CacheHits++
			}
		}

		job.CompletedTargets++
		job.LastHeartbeat = time.Now()
		o.saveProgress(ctx, job, onProgress)
	}

	job.CurrentTarget = ""
	o.logger.Info().
		Str("job_id", job.ID).
		Int("mappings", dataset.TotalMappings()).
		Int("failed_targets", len(dataset.FailedTargets)).
		Msg("Scrape run finished")

	return dataset, nil
}

// discoverIndex returns the country/university index, from cache when fresh.
// The second return reports a cache hit.
func (o *Orchestrator) discoverIndex(ctx context.Context) (map[string][]string, bool, error) {
	key := cache.DiscoveryKey()

	var countries map[string][]string
	err := o.cache.Get(ctx, key, &countries)
	if err == nil {
		o.logger.Debug().Int("countries", len(countries)).Msg("Discovery index served from cache")
		return countries, true, nil
	}
	if err != interfaces.ErrCacheMiss {
		o.logger.Warn().Err(err).Msg("Discovery cache read failed, scraping live")
	}

	if err := o.rateLimiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	err = o.retry.ExecuteWithRetry(ctx, o.logger, func() error {
		var fetchErr error
		countries, fetchErr = o.driver.FetchCountries(ctx)
		return fetchErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to discover universities: %w", err)
	}

	if err := o.cache.Put(ctx, key, models.TTLReference, countries); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to cache discovery index")
	}
	return countries, false, nil
}

// scrapeTarget returns one university's mappings, from cache when fresh.
// The second return reports a cache hit.
func (o *Orchestrator) scrapeTarget(ctx context.Context, target scrapeTarget, cred models.Credential) ([]models.ModuleMapping, bool, error) {
	key := cache.MappingsKey(target.university, target.country)

	var mappings []models.ModuleMapping
	err := o.cache.Get(ctx, key, &mappings)
	if err == nil {
		return mappings, true, nil
	}
	if err != interfaces.ErrCacheMiss {
		o.logger.Warn().Err(err).Str("university", target.university).Msg("Mapping cache read failed, scraping live")
	}

	if err := o.rateLimiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	var html string
	err = o.retry.ExecuteWithRetry(ctx, o.logger, func() error {
		// The session can expire mid-run; re-check the surface before
		// every live fetch.
		if err := o.sessions.EnsureOnSearchSurface(ctx, cred); err != nil {
			return err
		}
		var fetchErr error
		html, fetchErr = o.driver.FetchMappingsHTML(ctx, target.university, target.country)
		return fetchErr
	})
	if err != nil {
		return nil, false, err
	}

	mappings, err = ParseMappings(html, target.university, target.country, o.approvedYears)
	if err != nil {
		return nil, false, err
	}

	if err := o.cache.Put(ctx, key, models.TTLQuery, mappings); err != nil {
		o.logger.Warn().Err(err).Str("university", target.university).Msg("Failed to cache mappings")
	}
	return mappings, false, nil
}

// cancelRequested re-reads the persisted job to pick up a cancel issued
// through the API while the run is in flight.
func (o *Orchestrator) cancelRequested(ctx context.Context, jobID string) (bool, error) {
	stored, err := o.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return stored.CancelRequested, nil
}

func (o *Orchestrator) saveProgress(ctx context.Context, job *models.ScrapeJob, onProgress ProgressFunc) {
	// A cancel written while the current target was being scraped must
	// survive this save; merge the persisted flag before overwriting.
	if stored, err := o.jobStorage.GetJob(ctx, job.ID); err == nil && stored.CancelRequested {
		job.CancelRequested = true
	}
	if err := o.jobStorage.SaveJob(ctx, job); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job progress")
	}
	if onProgress != nil {
		onProgress(job)
	}
}

type scrapeTarget struct {
	university string
	country    string
}

// buildTargets flattens the discovery index into a deterministic target
// list, ordered by country then university.
func buildTargets(countries map[string][]string) []scrapeTarget {
	names := make([]string, 0, len(countries))
	for country := range countries {
		names = append(names, country)
	}
	sort.Strings(names)

	var targets []scrapeTarget
	for _, country := range names {
		universities := append([]string(nil), countries[country]...)
		sort.Strings(universities)
		for _, u := range universities {
			// The portal lists an "ALL" pseudo-option per country; scraping
			// it would double-count every university's mappings.
			if strings.EqualFold(u, "ALL") {
				continue
			}
			targets = append(targets, scrapeTarget{university: u, country: country})
		}
	}
	return targets
}
