package badger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "permuto-test"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobStorageRoundTrip(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()
	job := &models.ScrapeJob{
		ID:            "job_1",
		Status:        models.JobStatusRunning,
		TotalTargets:  10,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := storage.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.JobStatusRunning || got.TotalTargets != 10 {
		t.Errorf("Unexpected job: %+v", got)
	}

	// Upsert replaces the stored job
	job.Status = models.JobStatusCompleted
	job.CompletedTargets = 10
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob update failed: %v", err)
	}
	got, err = storage.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetJob after update failed: %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.CompletedTargets != 10 {
		t.Errorf("Update not persisted: %+v", got)
	}
}

func TestJobStorageNotFound(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	if _, err := storage.GetJob(ctx, "job_missing"); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
	if _, err := storage.GetLatestJob(ctx); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound for empty store, got %v", err)
	}
	if _, err := storage.GetRunningJob(ctx); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound for no running job, got %v", err)
	}
}

func TestGetLatestJobOrdersByStartTime(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"job_old", "job_mid", "job_new"} {
		job := &models.ScrapeJob{
			ID:            id,
			Status:        models.JobStatusCompleted,
			StartedAt:     base.Add(time.Duration(i) * time.Minute),
			LastHeartbeat: base,
		}
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}

	latest, err := storage.GetLatestJob(ctx)
	if err != nil {
		t.Fatalf("GetLatestJob failed: %v", err)
	}
	if latest.ID != "job_new" {
		t.Errorf("Expected job_new, got %s", latest.ID)
	}
}

func TestGetStaleJobsIgnoresHealthyAndTerminal(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()
	jobs := []*models.ScrapeJob{
		{ID: "job_stale", Status: models.JobStatusRunning, StartedAt: now.Add(-2 * time.Hour), LastHeartbeat: now.Add(-time.Hour)},
		{ID: "job_healthy", Status: models.JobStatusRunning, StartedAt: now, LastHeartbeat: now},
		{ID: "job_done", Status: models.JobStatusCompleted, StartedAt: now.Add(-2 * time.Hour), LastHeartbeat: now.Add(-time.Hour)},
	}
	for _, job := range jobs {
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}

	stale, err := storage.GetStaleJobs(ctx, 10)
	if err != nil {
		t.Fatalf("GetStaleJobs failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "job_stale" {
		t.Errorf("Expected only job_stale, got %+v", stale)
	}
}

func TestDeleteAndCountJobs(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()
	for _, id := range []string{"job_a", "job_b"} {
		if err := storage.SaveJob(ctx, &models.ScrapeJob{ID: id, Status: models.JobStatusCompleted, StartedAt: now, LastHeartbeat: now}); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}

	count, err := storage.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 jobs, got %d", count)
	}

	if err := storage.DeleteJob(ctx, "job_a"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := storage.GetJob(ctx, "job_a"); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected deleted job gone, got %v", err)
	}
	if err := storage.DeleteJob(ctx, "job_a"); !errors.Is(err, interfaces.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound on double delete, got %v", err)
	}
}
