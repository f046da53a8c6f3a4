package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/match"
)

// SearchHandler handles placement search API requests
type SearchHandler struct {
	matcher  *match.Service
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(matcher *match.Service, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		matcher:  matcher,
		validate: validator.New(),
		logger:   logger,
	}
}

// SearchHandler ranks partner universities against the requested modules.
// An empty scraped dataset is a 409 with code empty_dataset: the client
// must run a scrape first. A populated dataset with no matches is a 200
// with an empty result list.
// POST /api/search
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "at least one module code is required; semester must be 1 or 2")
		return
	}

	resp, err := h.matcher.Search(r.Context(), &req)
	if err != nil {
		if errors.Is(err, interfaces.ErrEmptyDataset) {
			writeError(w, http.StatusConflict, "empty_dataset", "no scraped data available; run a scrape job first")
			return
		}
		h.logger.Error().Err(err).Msg("Placement search failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
