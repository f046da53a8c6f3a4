package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/models"
)

// Service provides a TTL cache over persistent storage. Entries carry one of
// two expiry classes: reference data (the country/university discovery index,
// which changes about once a year) and query data (scraped module mappings).
type Service struct {
	storage interfaces.CacheStorage
	config  *common.CacheConfig
	logger  arbor.ILogger
}

// NewService creates a new cache service
func NewService(storage interfaces.CacheStorage, config *common.CacheConfig, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// Fingerprint derives a deterministic cache key from a query kind and its
// parameters. Parameter order does not matter: the same parameters always
// produce the same key.
func Fingerprint(kind string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(kind)
	for _, k := range keys {
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return kind + ":" + hex.EncodeToString(sum[:])
}

// Get retrieves a cached value into dest. Expired entries are treated as
// misses and removed.
func (s *Service) Get(ctx context.Context, key string, dest interface{}) error {
	entry, err := s.storage.Get(ctx, key)
	if err != nil {
		return err
	}

	if entry.Expired(time.Now()) {
		s.logger.Debug().Str("key", key).Msg("Cache entry expired, evicting")
		if delErr := s.storage.Delete(ctx, key); delErr != nil && delErr != interfaces.ErrCacheMiss {
			s.logger.Warn().Err(delErr).Str("key", key).Msg("Failed to evict expired cache entry")
		}
		return interfaces.ErrCacheMiss
	}

	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		return fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return nil
}

// Put stores a value under the given key with the TTL of its class.
func (s *Service) Put(ctx context.Context, key string, class models.TTLClass, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	now := time.Now()
	entry := &models.CacheEntry{
		Key:       key,
		Class:     class,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttlFor(class)),
	}

	if err := s.storage.Put(ctx, entry); err != nil {
		return err
	}

	s.logger.Debug().
		Str("key", key).
		Str("class", string(class)).
		Str("expires_at", entry.ExpiresAt.Format(time.RFC3339)).
		Msg("Cache entry stored")
	return nil
}

// Invalidate removes a single entry.
func (s *Service) Invalidate(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}

// ClearClass removes all entries of a TTL class and returns the removed keys.
func (s *Service) ClearClass(ctx context.Context, class models.TTLClass) ([]string, error) {
	return s.storage.DeleteClass(ctx, class)
}

// ClearAll removes every entry and returns the removed keys.
func (s *Service) ClearAll(ctx context.Context) ([]string, error) {
	return s.storage.DeleteAll(ctx)
}

// Count returns the number of stored entries, expired or not.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.storage.Count(ctx)
}

func (s *Service) ttlFor(class models.TTLClass) time.Duration {
	switch class {
	case models.TTLReference:
		return s.config.ReferenceTTL()
	default:
		return s.config.QueryTTL()
	}
}
