package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/models"
)

// Loader serves the static capacity/eligibility dataset: one record per
// partner university with semester capacities and the minimum GPA. The
// dataset is produced out of band (extracted from the programme's published
// documents) and loaded here read-only. Reload swaps the snapshot
// wholesale; records are never mutated in place.
type Loader struct {
	path   string
	logger arbor.ILogger

	mu      sync.RWMutex
	records map[string]models.UniversityRecord
}

// NewLoader creates a dataset loader for the given JSON file
func NewLoader(path string, logger arbor.ILogger) *Loader {
	return &Loader{
		path:   path,
		logger: logger,
	}
}

// Load reads the dataset file and replaces the current snapshot.
func (l *Loader) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read dataset file %s: %w", l.path, err)
	}

	var records []models.UniversityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse dataset file %s: %w", l.path, err)
	}

	indexed := make(map[string]models.UniversityRecord, len(records))
	for _, rec := range records {
		indexed[normalizeName(rec.Name)] = rec
	}

	l.mu.Lock()
	l.records = indexed
	l.mu.Unlock()

	l.logger.Info().Str("path", l.path).Int("records", len(indexed)).Msg("University dataset loaded")
	return nil
}

// Lookup returns the record for a university by name, matching
// case-insensitively.
func (l *Loader) Lookup(name string) (models.UniversityRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[normalizeName(name)]
	return rec, ok
}

// Count returns the number of loaded records.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
