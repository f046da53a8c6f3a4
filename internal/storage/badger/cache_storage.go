package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CacheStorage implements the CacheStorage interface for Badger
type CacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCacheStorage creates a new CacheStorage instance
func NewCacheStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CacheStorage {
	return &CacheStorage{
		db:     db,
		logger: logger,
	}
}

var _ interfaces.CacheStorage = (*CacheStorage)(nil)

func (s *CacheStorage) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	if err := s.db.Store().Get(key, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

func (s *CacheStorage) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is required")
	}
	if entry.Key == "" {
		return fmt.Errorf("cache key is required")
	}

	if err := s.db.Store().Upsert(entry.Key, entry); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

func (s *CacheStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.Store().Delete(key, &models.CacheEntry{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrCacheMiss
		}
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *CacheStorage) DeleteClass(ctx context.Context, class models.TTLClass) ([]string, error) {
	var entries []models.CacheEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("Class").Eq(class)); err != nil {
		return nil, fmt.Errorf("failed to find cache entries by class: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for i := range entries {
		if err := s.db.Store().Delete(entries[i].Key, &models.CacheEntry{}); err != nil {
			s.logger.Warn().Err(err).Str("key", entries[i].Key).Msg("Failed to delete cache entry")
			continue
		}
		keys = append(keys, entries[i].Key)
	}

	s.logger.Debug().Str("class", string(class)).Int("deleted", len(keys)).Msg("Cleared cache class")
	return keys, nil
}

func (s *CacheStorage) DeleteAll(ctx context.Context) ([]string, error) {
	var entries []models.CacheEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("Key").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for i := range entries {
		if err := s.db.Store().Delete(entries[i].Key, &models.CacheEntry{}); err != nil {
			s.logger.Warn().Err(err).Str("key", entries[i].Key).Msg("Failed to delete cache entry")
			continue
		}
		keys = append(keys, entries[i].Key)
	}

	s.logger.Debug().Int("deleted", len(keys)).Msg("Cleared all cache entries")
	return keys, nil
}

func (s *CacheStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.CacheEntry{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return int(count), nil
}
