package match

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/ternarybob/permuto/internal/services/cache"
	"github.com/ternarybob/permuto/internal/services/dataset"
)

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
	return nil, nil
}

func (m *memCacheStorage) DeleteAll(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (m *memCacheStorage) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

const datasetJSON = `[
	{"name": "DTU", "country": "Denmark", "code": "DK-DTU", "sem1_spots": 16, "sem2_spots": 10, "min_gpa": 3.5},
	{"name": "KTH", "country": "Sweden", "code": "SE-KTH", "sem1_spots": 8, "sem2_spots": 8, "min_gpa": 4.0},
	{"name": "Lund", "country": "Sweden", "code": "SE-LU", "sem1_spots": 12, "sem2_spots": 6, "min_gpa": 3.8}
]`

func newTestMatcher(t *testing.T) (*Service, *cache.Service) {
	t.Helper()
	logger := arbor.NewLogger()

	path := filepath.Join(t.TempDir(), "universities.json")
	require.NoError(t, os.WriteFile(path, []byte(datasetJSON), 0644))

	loader := dataset.NewLoader(path, logger)
	require.NoError(t, loader.Load())

	cacheService := cache.NewService(newMemCacheStorage(), &common.CacheConfig{ReferenceTTLDays: 365, QueryTTLDays: 30}, logger)
	matcher := NewService(cacheService, loader, &common.MatchingConfig{MinMappableModules: 2}, logger)
	return matcher, cacheService
}

func seedScrapedData(t *testing.T, cacheService *cache.Service) {
	t.Helper()
	ctx := context.Background()

	countries := map[string][]string{
		"Denmark": {"DTU"},
		"Sweden":  {"KTH", "Lund", "Uppsala"},
	}
	require.NoError(t, cacheService.Put(ctx, cache.DiscoveryKey(), models.TTLReference, countries))

	mappings := map[string]map[string][]models.ModuleMapping{
		"DTU": {
			"Denmark": {
				{SourceModule: "SC4001", PartnerModule: "02456", Status: "Approved", University: "DTU", Country: "Denmark"},
			},
		},
		"KTH": {
			"Sweden": {
				{SourceModule: "SC4001", PartnerModule: "DD2424", Status: "Approved", University: "KTH", Country: "Sweden"},
				{SourceModule: "SC2001", PartnerModule: "DD1338", Status: "Approved", University: "KTH", Country: "Sweden"},
			},
		},
		"Lund": {
			"Sweden": {
				{SourceModule: "SC4001", PartnerModule: "EDAN95", Status: "Approved", University: "Lund", Country: "Sweden"},
				{SourceModule: "SC2001", PartnerModule: "EDAF05", Status: "Approved", University: "Lund", Country: "Sweden"},
			},
		},
		// Uppsala is discovered but absent from the capacity dataset.
		"Uppsala": {
			"Sweden": {
				{SourceModule: "SC4001", PartnerModule: "1DL034", Status: "Approved", University: "Uppsala", Country: "Sweden"},
				{SourceModule: "SC2001", PartnerModule: "1DL210", Status: "Approved", University: "Uppsala", Country: "Sweden"},
			},
		},
	}
	for university, byCountry := range mappings {
		for country, ms := range byCountry {
			require.NoError(t, cacheService.Put(ctx, cache.MappingsKey(university, country), models.TTLQuery, ms))
		}
	}
}

func TestSearchEmptyDatasetIsDistinctError(t *testing.T) {
	matcher, _ := newTestMatcher(t)

	_, err := matcher.Search(context.Background(), &models.SearchRequest{
		Modules: []string{"SC4001"},
	})
	assert.ErrorIs(t, err, interfaces.ErrEmptyDataset)
}

func TestSearchNoMatchesIsEmptyResult(t *testing.T) {
	matcher, cacheService := newTestMatcher(t)
	seedScrapedData(t, cacheService)

	resp, err := matcher.Search(context.Background(), &models.SearchRequest{
		Modules:  []string{"EE9999"},
		Semester: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestSearchSingleModuleCoverage(t *testing.T) {
	matcher, cacheService := newTestMatcher(t)
	seedScrapedData(t, cacheService)

	resp, err := matcher.Search(context.Background(), &models.SearchRequest{
		Modules:     []string{"SC4001", "EE8086"},
		Country:     "Denmark",
		Semester:    1,
		MinMappable: 1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	dtu := resp.Results[0]
	assert.Equal(t, 1, dtu.Rank)
	assert.Equal(t, "DTU", dtu.Name)
	assert.Equal(t, "Denmark", dtu.Country)
	assert.Equal(t, 16, dtu.SemesterSpots)
	assert.Equal(t, 3.5, dtu.MinGPA)
	assert.Equal(t, 1, dtu.MappableCount)
	assert.Equal(t, []string{"EE8086"}, dtu.UnmappableModules)
	assert.Equal(t, 50.0, dtu.CoverageScore)
	require.Len(t, dtu.MappableModules["SC4001"], 1)
	assert.Equal(t, "02456", dtu.MappableModules["SC4001"][0].PartnerModule)
}

func TestSearchRankingOrder(t *testing.T) {
	matcher, cacheService := newTestMatcher(t)
	seedScrapedData(t, cacheService)

	resp, err := matcher.Search(context.Background(), &models.SearchRequest{
		Modules:  []string{"SC4001", "SC2001"},
		Semester: 1,
	})
	require.NoError(t, err)
	// KTH and Lund both map 2 of 2; DTU maps only 1 and falls below the
	// default minimum of 2. Uppsala has no capacity record and is excluded.
	require.Len(t, resp.Results, 2)

	// Sweden only; Lund ranks above KTH on semester-1 capacity (12 > 8).
	assert.Equal(t, "Lund", resp.Results[0].Name)
	assert.Equal(t, "KTH", resp.Results[1].Name)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
}

func TestSearchGPAFilter(t *testing.T) {
	matcher, cacheService := newTestMatcher(t)
	seedScrapedData(t, cacheService)

	resp, err := matcher.Search(context.Background(), &models.SearchRequest{
		Modules:  []string{"SC4001", "SC2001"},
		Semester: 1,
		GPA:      3.9,
	})
	require.NoError(t, err)
	// KTH requires 4.0 and drops out; Lund at 3.8 stays.
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Lund", resp.Results[0].Name)
}

func TestSearchIgnoresUnapprovedMappings(t *testing.T) {
	matcher, cacheService := newTestMatcher(t)
	ctx := context.Background()

	require.NoError(t, cacheService.Put(ctx, cache.DiscoveryKey(), models.TTLReference,
		map[string][]string{"Denmark": {"DTU"}}))
	require.NoError(t, cacheService.Put(ctx, cache.MappingsKey("DTU", "Denmark"), models.TTLQuery,
		[]models.ModuleMapping{
			{SourceModule: "SC4001", PartnerModule: "02457", Status: "Rejected", University: "DTU", Country: "Denmark"},
		}))

	resp, err := matcher.Search(ctx, &models.SearchRequest{
		Modules:     []string{"SC4001"},
		Semester:    1,
		MinMappable: 1,
	})
	require.NoError(t, err)
	// A rejected equivalence is not mappable; DTU has nothing to offer.
	assert.Empty(t, resp.Results)
}

func TestSearchExcludesZeroCapacityUniversities(t *testing.T) {
	logger := arbor.NewLogger()

	// DTU has no semester-1 spots this round.
	path := filepath.Join(t.TempDir(), "universities.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name": "DTU", "country": "Denmark", "code": "DK-DTU", "sem1_spots": 0, "sem2_spots": 10, "min_gpa": 3.5}
	]`), 0644))
	loader := dataset.NewLoader(path, logger)
	require.NoError(t, loader.Load())

	cacheService := cache.NewService(newMemCacheStorage(), &common.CacheConfig{ReferenceTTLDays: 365, QueryTTLDays: 30}, logger)
	matcher := NewService(cacheService, loader, &common.MatchingConfig{MinMappableModules: 1}, logger)

	ctx := context.Background()
	require.NoError(t, cacheService.Put(ctx, cache.DiscoveryKey(), models.TTLReference,
		map[string][]string{"Denmark": {"DTU"}}))
	require.NoError(t, cacheService.Put(ctx, cache.MappingsKey("DTU", "Denmark"), models.TTLQuery,
		[]models.ModuleMapping{
			{SourceModule: "SC4001", PartnerModule: "02456", Status: "Approved", University: "DTU", Country: "Denmark"},
		}))

	resp, err := matcher.Search(ctx, &models.SearchRequest{Modules: []string{"SC4001"}, Semester: 1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "no semester-1 capacity means no placement")

	// The semester-2 capacity is still there.
	resp, err = matcher.Search(ctx, &models.SearchRequest{Modules: []string{"SC4001"}, Semester: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 10, resp.Results[0].SemesterSpots)
}

func TestSearchResponseCarriesTiming(t *testing.T) {
	matcher, cacheService := newTestMatcher(t)
	seedScrapedData(t, cacheService)

	resp, err := matcher.Search(context.Background(), &models.SearchRequest{
		Modules:  []string{"SC4001", "SC2001"},
		Semester: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.GreaterOrEqual(t, resp.ExecutionTimeSeconds, 0.0)
}

func TestSearchDeterministicOrder(t *testing.T) {
	matcher, cacheService := newTestMatcher(t)
	seedScrapedData(t, cacheService)

	req := &models.SearchRequest{Modules: []string{"SC4001", "SC2001"}, Semester: 1}

	first, err := matcher.Search(context.Background(), req)
	require.NoError(t, err)
	second, err := matcher.Search(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, len(first.Results), len(second.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].Name, second.Results[i].Name)
		assert.Equal(t, first.Results[i].Rank, second.Results[i].Rank)
	}
}
