package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/cache"
)

// CacheHandler handles cache administration API requests
type CacheHandler struct {
	cache  *cache.Service
	logger arbor.ILogger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cacheService *cache.Service, logger arbor.ILogger) *CacheHandler {
	return &CacheHandler{
		cache:  cacheService,
		logger: logger,
	}
}

// StatsHandler returns cache entry counts
// GET /api/cache/stats
func (h *CacheHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.cache.Count(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count cache entries")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to count cache entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": count,
	})
}

// ClearHandler clears the whole cache, or one TTL class when the path names
// it. Returns the removed keys so an operator can see what was evicted.
// DELETE /api/cache
// DELETE /api/cache/{class}   class is "reference" or "query"
func (h *CacheHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "DELETE required")
		return
	}

	class := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cache"), "/")

	var keys []string
	var err error
	switch class {
	case "":
		keys, err = h.cache.ClearAll(r.Context())
	case string(models.TTLReference), string(models.TTLQuery):
		keys, err = h.cache.ClearClass(r.Context(), models.TTLClass(class))
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "cache class must be reference or query")
		return
	}

	if err != nil {
		h.logger.Error().Err(err).Str("class", class).Msg("Failed to clear cache")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to clear cache")
		return
	}

	h.logger.Info().Str("class", class).Int("removed", len(keys)).Msg("Cache cleared via API")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": len(keys),
		"keys":    keys,
	})
}
