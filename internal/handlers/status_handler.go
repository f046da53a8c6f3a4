package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/services/cache"
	"github.com/ternarybob/permuto/internal/services/dataset"
	"github.com/ternarybob/permuto/internal/services/session"
)

// StatusHandler handles system status API requests
type StatusHandler struct {
	jobStorage interfaces.JobStorage
	cache      *cache.Service
	dataset    *dataset.Loader
	sessions   *session.Controller
	startedAt  time.Time
	logger     arbor.ILogger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(jobStorage interfaces.JobStorage, cacheService *cache.Service, datasetLoader *dataset.Loader, sessions *session.Controller, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		jobStorage: jobStorage,
		cache:      cacheService,
		dataset:    datasetLoader,
		sessions:   sessions,
		startedAt:  time.Now(),
		logger:     logger,
	}
}

// HealthHandler returns liveness
// GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// VersionHandler returns build information
// GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": common.Version,
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

// StatusHandler returns an operational snapshot: job counts, cache size,
// dataset size and the portal session state.
// GET /api/status
func (h *StatusHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobCount, err := h.jobStorage.CountJobs(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count jobs for status")
	}

	cacheCount, err := h.cache.Count(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count cache entries for status")
	}

	sess := h.sessions.Session()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":          time.Since(h.startedAt).String(),
		"jobs":            jobCount,
		"cache_entries":   cacheCount,
		"dataset_records": h.dataset.Count(),
		"session_state":   string(sess.State),
		"session_owner":   sess.Owner,
	})
}
