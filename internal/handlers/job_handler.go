package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/jobs"
)

// startJobRequest carries portal credentials for one scrape run. The
// credential is passed straight through to the job registry and is never
// logged or stored.
type startJobRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Domain   string `json:"domain,omitempty"`
}

// JobHandler handles scrape job API requests
type JobHandler struct {
	registry *jobs.Registry
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(registry *jobs.Registry, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		registry: registry,
		validate: validator.New(),
		logger:   logger,
	}
}

// StartJobHandler launches a scrape job
// POST /api/scrape
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	cred := models.Credential{
		Username: req.Username,
		Password: req.Password,
		Domain:   req.Domain,
	}

	job, err := h.registry.Start(r.Context(), cred)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobAlreadyRunning) {
			writeError(w, http.StatusConflict, "job_already_running", "a scrape job is already in progress")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start scrape job")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start scrape job")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// GetJobHandler returns a single job by ID
// GET /api/scrape/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "job ID is required")
		return
	}

	job, err := h.registry.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found", "no job with ID "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// GetLatestJobHandler returns the most recently started job
// GET /api/scrape/jobs/latest
func (h *JobHandler) GetLatestJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.registry.GetLatestJob(r.Context())
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found", "no jobs have been run")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to get latest job")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get latest job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// CancelJobHandler requests cooperative cancellation of a job
// POST /api/scrape/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	jobID := jobIDFromPath(strings.TrimSuffix(r.URL.Path, "/cancel"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "job ID is required")
		return
	}

	job, err := h.registry.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found", "no job with ID "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to cancel job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ForceCancelStaleHandler sweeps stale running jobs immediately
// POST /api/scrape/jobs/force-cancel-stale
func (h *JobHandler) ForceCancelStaleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	count, err := h.registry.ForceCancelStale(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to force-cancel stale jobs")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to force-cancel stale jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled": count,
	})
}

// jobIDFromPath extracts the job ID from /api/scrape/jobs/{id}[...].
func jobIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// api / scrape / jobs / {id}
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}
