package models

import "time"

// JobStatus represents the state of a scrape job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ScrapeJob is one run of the scrape pipeline. It is created by the registry
// before orchestration begins (so status queries never see a gap), progress
// fields are mutated only by the owning orchestrator run, and status
// transitions only by the registry. Persisted so a restart leaves a record
// the stale-job sweep can observe.
//
// Credentials are never part of this record; they exist only on the call
// stack of the run that owns the job.
type ScrapeJob struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	TotalCountries   int       `json:"total_countries"`
	TotalTargets     int       `json:"total_targets"`
	CompletedTargets int       `json:"completed_targets"`
	CurrentTarget    string    `json:"current_target,omitempty"`
	TotalMappings    int       `json:"total_mappings"`
	// CacheHits counts how many of the run's reads (discovery plus targets)
	// were served from cache instead of the portal.
	CacheHits int `json:"cache_hits"`
	// FailedTargets lists universities whose scrape failed; the job still
	// completes with partial data.
	FailedTargets []string  `json:"failed_targets,omitempty"`
	Error         string    `json:"error,omitempty"`
	// CancelRequested is the cooperative cancellation flag. The orchestrator
	// checks it between targets; termination latency is bounded by one
	// target's processing time.
	CancelRequested bool      `json:"cancel_requested"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	// LastHeartbeat is refreshed on every progress update. The stale-job
	// sweep cancels running jobs whose heartbeat exceeds the configured
	// threshold (typically after a process restart).
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Stale reports whether a running job has not heartbeated within the window.
func (j *ScrapeJob) Stale(threshold time.Duration, now time.Time) bool {
	return j.Status == JobStatusRunning && now.Sub(j.LastHeartbeat) > threshold
}
