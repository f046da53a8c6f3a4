package match

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/cache"
	"github.com/ternarybob/permuto/internal/services/dataset"
)

// Service ranks partner universities against a student's module list. It
// reads scraped mappings from the cache and joins them with the static
// capacity dataset; nothing here touches the portal. Results are computed
// fresh on every request and never stored.
type Service struct {
	cache   *cache.Service
	dataset *dataset.Loader
	config  *common.MatchingConfig
	logger  arbor.ILogger
}

// NewService creates a match service
func NewService(cacheService *cache.Service, datasetLoader *dataset.Loader, config *common.MatchingConfig, logger arbor.ILogger) *Service {
	return &Service{
		cache:   cacheService,
		dataset: datasetLoader,
		config:  config,
		logger:  logger,
	}
}

// Search ranks universities for the request. Returns ErrEmptyDataset when
// no scrape has populated the cache yet; an empty result list with a
// populated cache is a legitimate "no matches" answer.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	var countries map[string][]string
	if err := s.cache.Get(ctx, cache.DiscoveryKey(), &countries); err != nil {
		if err == interfaces.ErrCacheMiss {
			return nil, interfaces.ErrEmptyDataset
		}
		return nil, err
	}

	minMappable := req.MinMappable
	if minMappable <= 0 {
		minMappable = s.config.MinMappableModules
	}

	requested := normalizeModules(req.Modules)

	var results []models.MatchedResult
	for country, universities := range countries {
		if req.Country != "" && !strings.EqualFold(country, req.Country) {
			continue
		}

		for _, university := range universities {
			var mappings []models.ModuleMapping
			if err := s.cache.Get(ctx, cache.MappingsKey(university, country), &mappings); err != nil {
				// Not scraped yet, or expired. Skip rather than fail the
				// whole search.
				continue
			}

			result, ok := s.evaluate(university, country, requested, mappings, req, minMappable)
			if !ok {
				continue
			}
			results = append(results, result)
		}
	}

	s.rank(results, req.Semester)

	s.logger.Debug().
		Int("results", len(results)).
		Strs("modules", req.Modules).
		Str("country", req.Country).
		Msg("Placement search completed")

	return &models.SearchResponse{
		Status:               "success",
		Results:              results,
		Total:                len(results),
		ExecutionTimeSeconds: time.Since(start).Seconds(),
	}, nil
}

// evaluate computes one university's match against the requested modules
// and applies the eligibility filters.
func (s *Service) evaluate(university, country string, requested []string, mappings []models.ModuleMapping, req *models.SearchRequest, minMappable int) (models.MatchedResult, bool) {
	byModule := make(map[string][]models.ModuleMapping)
	for _, m := range mappings {
		// Only an approved equivalence is mappable. The scraper filters at
		// parse time, but cached data from before a policy change may still
		// carry other statuses.
		if !isApproved(m.Status) {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(m.SourceModule))
		byModule[code] = append(byModule[code], m)
	}

	mappable := make(map[string][]models.ModuleMapping)
	var unmappable []string
	for _, code := range requested {
		if ms, ok := byModule[code]; ok {
			mappable[code] = ms
		} else {
			unmappable = append(unmappable, code)
		}
	}

	if len(mappable) < minMappable {
		return models.MatchedResult{}, false
	}

	// Universities absent from the capacity dataset cannot be ranked on
	// spots or GPA and are excluded.
	record, ok := s.dataset.Lookup(university)
	if !ok {
		return models.MatchedResult{}, false
	}

	// No exchange spots for the requested semester means no placement.
	if record.SpotsForSemester(req.Semester) <= 0 {
		return models.MatchedResult{}, false
	}

	if req.GPA > 0 && record.MinGPA > req.GPA {
		return models.MatchedResult{}, false
	}

	coverage := float64(len(mappable)) / float64(len(requested)) * 100

	return models.MatchedResult{
		Name:              record.Name,
		Country:           country,
		Code:              record.Code,
		SemesterSpots:     record.SpotsForSemester(req.Semester),
		MinGPA:            record.MinGPA,
		Remarks:           record.Remarks,
		MappableModules:   mappable,
		MappableCount:     len(mappable),
		UnmappableModules: unmappable,
		CoverageScore:     coverage,
	}, true
}

// rank orders results by country, then mappable count (more first), then
// semester capacity (more first), then minimum GPA (lower first). The sort
// is stable and the inputs are built from sorted cache data, so the same
// dataset always yields the same order. Ranks are 1-based.
func (s *Service) rank(results []models.MatchedResult, semester int) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.MappableCount != b.MappableCount {
			return a.MappableCount > b.MappableCount
		}
		if a.SemesterSpots != b.SemesterSpots {
			return a.SemesterSpots > b.SemesterSpots
		}
		if a.MinGPA != b.MinGPA {
			return a.MinGPA < b.MinGPA
		}
		return a.Name < b.Name
	})

	for i := range results {
		results[i].Rank = i + 1
	}
}

func isApproved(status string) bool {
	return strings.Contains(strings.ToLower(status), "approved")
}

func normalizeModules(modules []string) []string {
	seen := make(map[string]bool, len(modules))
	var out []string
	for _, m := range modules {
		code := strings.ToUpper(strings.TrimSpace(m))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}
