package scraper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/cache"
	"github.com/ternarybob/permuto/internal/services/session"
)

const mappingTableHTML = `<table class="mapping-results">
	<tr>
		<td>SC4001</td><td>Neural Networks</td><td>02456</td><td>Deep Learning</td>
		<td>3</td><td>1</td><td>Approved</td><td>2024</td>
	</tr>
</table>`

// scriptedDriver serves a fixed discovery index and mapping table
type scriptedDriver struct {
	countries      map[string][]string
	failFor        map[string]bool
	countriesCalls int
	mappingCalls   int
	// onMappingFetch runs while a target's fetch is in flight
	onMappingFetch func(university string)
}

func (d *scriptedDriver) Authenticate(ctx context.Context, cred models.Credential) error {
	return nil
}

func (d *scriptedDriver) Location(ctx context.Context) (interfaces.Surface, error) {
	return interfaces.SurfaceSearch, nil
}

func (d *scriptedDriver) NavigateTo(ctx context.Context, surface interfaces.Surface) (interfaces.Surface, error) {
	return surface, nil
}

func (d *scriptedDriver) FetchCountries(ctx context.Context) (map[string][]string, error) {
	d.countriesCalls++
	return d.countries, nil
}

func (d *scriptedDriver) FetchMappingsHTML(ctx context.Context, university, country string) (string, error) {
	d.mappingCalls++
	if d.onMappingFetch != nil {
		d.onMappingFetch(university)
	}
	if d.failFor[university] {
		return "", fmt.Errorf("%w: portal error for %s", interfaces.ErrPortalUnavailable, university)
	}
	return mappingTableHTML, nil
}

func (d *scriptedDriver) Close() error { return nil }

// memJobStorage is an in-memory JobStorage for tests
type memJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.ScrapeJob
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]*models.ScrapeJob)}
}

func (m *memJobStorage) SaveJob(ctx context.Context, job *models.ScrapeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *job
	m.jobs[job.ID] = &saved
	return nil
}

func (m *memJobStorage) GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobStorage) GetLatestJob(ctx context.Context) (*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.ScrapeJob
	for _, job := range m.jobs {
		if latest == nil || job.StartedAt.After(latest.StartedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, interfaces.ErrJobNotFound
	}
	copied := *latest
	return &copied, nil
}

func (m *memJobStorage) GetRunningJob(ctx context.Context) (*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Status == models.JobStatusRunning {
			copied := *job
			return &copied, nil
		}
	}
	return nil, interfaces.ErrJobNotFound
}

func (m *memJobStorage) GetStaleJobs(ctx context.Context, thresholdMinutes int) ([]*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := time.Duration(thresholdMinutes) * time.Minute
	var stale []*models.ScrapeJob
	for _, job := range m.jobs {
		if job.Stale(threshold, time.Now()) {
			copied := *job
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

func (m *memJobStorage) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memJobStorage) CountJobs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}

// memCacheStorage is an in-memory CacheStorage for tests
type memCacheStorage struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
}

func newMemCacheStorage() *memCacheStorage {
	return &memCacheStorage{entries: make(map[string]*models.CacheEntry)}
}

func (m *memCacheStorage) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, interfaces.ErrCacheMiss
	}
	return entry, nil
}

func (m *memCacheStorage) Put(ctx context.Context, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	return nil
}

func (m *memCacheStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCacheStorage) DeleteClass(ctx context.Context, class models.TTLClass) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, e := range m.entries {
		if e.Class == class {
			delete(m.entries, k)
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memCacheStorage) DeleteAll(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.entries = make(map[string]*models.CacheEntry)
	return keys, nil
}

func (m *memCacheStorage) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func newTestOrchestrator(t *testing.T, driver interfaces.PortalDriver, jobStorage interfaces.JobStorage, cacheStorage interfaces.CacheStorage) *Orchestrator {
	t.Helper()
	logger := arbor.NewLogger()
	scraperConfig := &common.ScraperConfig{
		MinDelay:     "1ms",
		MaxDelay:     "2ms",
		MaxAttempts:  2,
		RetryBackoff: "1ms",
	}
	cacheConfig := &common.CacheConfig{ReferenceTTLDays: 365, QueryTTLDays: 30}
	cacheService := cache.NewService(cacheStorage, cacheConfig, logger)
	sessions := session.NewController(driver, scraperConfig, logger)

	o, err := NewOrchestrator(sessions, driver, cacheService, jobStorage, scraperConfig, logger)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	return o
}

func newRunningJob(jobStorage interfaces.JobStorage) *models.ScrapeJob {
	job := &models.ScrapeJob{
		ID:            "job_test",
		Status:        models.JobStatusRunning,
		StartedAt:     time.Now(),
		LastHeartbeat: time.Now(),
	}
	jobStorage.SaveJob(context.Background(), job)
	return job
}

func TestRunScrapesAllTargets(t *testing.T) {
	driver := &scriptedDriver{countries: map[string][]string{
		"Denmark": {"DTU"},
		"Sweden":  {"KTH", "Lund"},
	}}
	jobStorage := newMemJobStorage()
	o := newTestOrchestrator(t, driver, jobStorage, newMemCacheStorage())
	job := newRunningJob(jobStorage)

	dataset, err := o.Run(context.Background(), job, models.Credential{Username: "u", Password: "p"}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if job.TotalCountries != 2 || job.TotalTargets != 3 {
		t.Errorf("Expected 2 countries / 3 targets, got %d/%d", job.TotalCountries, job.TotalTargets)
	}
	if job.CompletedTargets != 3 {
		t.Errorf("Expected 3 completed targets, got %d", job.CompletedTargets)
	}
	if len(dataset.Mappings) != 3 {
		t.Errorf("Expected mappings for 3 universities, got %d", len(dataset.Mappings))
	}
	if job.TotalMappings != 3 {
		t.Errorf("Expected 3 total mappings, got %d", job.TotalMappings)
	}
	if driver.mappingCalls != 3 {
		t.Errorf("Expected 3 live mapping fetches, got %d", driver.mappingCalls)
	}
}

func TestRunServesCachedTargetsWithoutPortal(t *testing.T) {
	driver := &scriptedDriver{countries: map[string][]string{"Denmark": {"DTU"}}}
	jobStorage := newMemJobStorage()
	cacheStorage := newMemCacheStorage()
	o := newTestOrchestrator(t, driver, jobStorage, cacheStorage)

	// First run populates the cache
	job1 := newRunningJob(jobStorage)
	if _, err := o.Run(context.Background(), job1, models.Credential{}, nil); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if driver.countriesCalls != 1 || driver.mappingCalls != 1 {
		t.Fatalf("Expected 1 discovery + 1 mapping call, got %d/%d", driver.countriesCalls, driver.mappingCalls)
	}

	// Second run is served entirely from cache
	job2 := &models.ScrapeJob{ID: "job_2", Status: models.JobStatusRunning, StartedAt: time.Now(), LastHeartbeat: time.Now()}
	jobStorage.SaveJob(context.Background(), job2)
	if _, err := o.Run(context.Background(), job2, models.Credential{}, nil); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if driver.countriesCalls != 1 || driver.mappingCalls != 1 {
		t.Errorf("Cached run must not touch the portal, got %d/%d calls", driver.countriesCalls, driver.mappingCalls)
	}
	if job2.TotalMappings != 1 {
		t.Errorf("Cached run should still count mappings, got %d", job2.TotalMappings)
	}
	// Discovery plus the one target, both from cache
	if job2.CacheHits != 2 {
		t.Errorf("Expected 2 cache hits on the second run, got %d", job2.CacheHits)
	}
	if job1.CacheHits != 0 {
		t.Errorf("First run must not record cache hits, got %d", job1.CacheHits)
	}
}

func TestRunToleratesFailingTarget(t *testing.T) {
	driver := &scriptedDriver{
		countries: map[string][]string{"Sweden": {"KTH", "Lund"}},
		failFor:   map[string]bool{"KTH": true},
	}
	jobStorage := newMemJobStorage()
	o := newTestOrchestrator(t, driver, jobStorage, newMemCacheStorage())
	job := newRunningJob(jobStorage)

	dataset, err := o.Run(context.Background(), job, models.Credential{}, nil)
	if err != nil {
		t.Fatalf("Run should tolerate a failing target, got %v", err)
	}

	if len(job.FailedTargets) != 1 || job.FailedTargets[0] != "KTH" {
		t.Errorf("Expected KTH in failed targets, got %v", job.FailedTargets)
	}
	if _, ok := dataset.Mappings["Lund"]; !ok {
		t.Error("Expected Lund to be scraped despite KTH failing")
	}
	if job.CompletedTargets != 2 {
		t.Errorf("Expected both targets counted, got %d", job.CompletedTargets)
	}
}

func TestRunStopsAtCancellation(t *testing.T) {
	driver := &scriptedDriver{countries: map[string][]string{
		"Denmark": {"DTU"},
		"Sweden":  {"KTH"},
	}}
	jobStorage := newMemJobStorage()
	o := newTestOrchestrator(t, driver, jobStorage, newMemCacheStorage())
	job := newRunningJob(jobStorage)

	// Cancel after the first target completes.
	onProgress := func(j *models.ScrapeJob) {
		if j.CompletedTargets == 1 {
			stored, _ := jobStorage.GetJob(context.Background(), j.ID)
			stored.CancelRequested = true
			jobStorage.SaveJob(context.Background(), stored)
		}
	}

	_, err := o.Run(context.Background(), job, models.Credential{}, onProgress)
	if err != interfaces.ErrJobCancelled {
		t.Fatalf("Expected ErrJobCancelled, got %v", err)
	}
	if job.CompletedTargets != 1 {
		t.Errorf("Expected run to stop after 1 target, got %d", job.CompletedTargets)
	}
}

func TestRunHonoursCancelIssuedDuringTargetFetch(t *testing.T) {
	jobStorage := newMemJobStorage()
	driver := &scriptedDriver{countries: map[string][]string{
		"Denmark": {"DTU"},
		"Sweden":  {"KTH", "Lund"},
	}}
	// Cancel arrives while the first target is being fetched, before the
	// orchestrator's next progress save.
	driver.onMappingFetch = func(university string) {
		if university == "DTU" {
			stored, _ := jobStorage.GetJob(context.Background(), "job_test")
			stored.CancelRequested = true
			jobStorage.SaveJob(context.Background(), stored)
		}
	}
	o := newTestOrchestrator(t, driver, jobStorage, newMemCacheStorage())
	job := newRunningJob(jobStorage)

	_, err := o.Run(context.Background(), job, models.Credential{}, nil)
	if err != interfaces.ErrJobCancelled {
		t.Fatalf("Expected ErrJobCancelled, got %v", err)
	}
	if job.CompletedTargets != 1 {
		t.Errorf("Expected run to stop after the in-flight target, got %d", job.CompletedTargets)
	}

	// The progress save after the target must not clobber the flag
	stored, _ := jobStorage.GetJob(context.Background(), job.ID)
	if !stored.CancelRequested {
		t.Error("Expected cancel flag to survive the progress save")
	}
}

func TestBuildTargetsSkipsAllOption(t *testing.T) {
	targets := buildTargets(map[string][]string{
		"Denmark": {"ALL", "DTU"},
		"Sweden":  {"All", "KTH"},
	})

	if len(targets) != 2 {
		t.Fatalf("Expected 2 targets with ALL skipped, got %d", len(targets))
	}
	for _, target := range targets {
		if target.university == "ALL" || target.university == "All" {
			t.Errorf("ALL pseudo-university must not be a target: %+v", target)
		}
	}
}

func TestRunHeartbeatsOnProgress(t *testing.T) {
	driver := &scriptedDriver{countries: map[string][]string{"Denmark": {"DTU"}}}
	jobStorage := newMemJobStorage()
	o := newTestOrchestrator(t, driver, jobStorage, newMemCacheStorage())
	job := newRunningJob(jobStorage)
	stale := time.Now().Add(-time.Hour)
	job.LastHeartbeat = stale

	if _, err := o.Run(context.Background(), job, models.Credential{}, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stored, err := jobStorage.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Failed to load job: %v", err)
	}
	if !stored.LastHeartbeat.After(stale) {
		t.Error("Expected heartbeat to advance during the run")
	}
}
