package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Portal      PortalConfig    `toml:"portal"`
	Scraper     ScraperConfig   `toml:"scraper"`
	Cache       CacheConfig     `toml:"cache"`
	Jobs        JobsConfig      `toml:"jobs"`
	Matching    MatchingConfig  `toml:"matching"`
	Dataset     DatasetConfig   `toml:"dataset"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// PortalConfig locates the exchange portal surfaces and controls the browser
// session used against them.
type PortalConfig struct {
	LoginURL       string `toml:"login_url"`       // SSO login entry point
	SearchURL      string `toml:"search_url"`      // Mapping search page
	Headless       bool   `toml:"headless"`        // Run browser headless
	UserAgent      string `toml:"user_agent"`      // Browser user agent
	RequestTimeout string `toml:"request_timeout"` // Per-operation timeout, e.g. "45s"
}

// ScraperConfig bounds the scrape cadence against the portal. Each live
// request is preceded by a random sleep within [min_delay, max_delay].
type ScraperConfig struct {
	MinDelay     string `toml:"min_delay"`     // e.g. "2s"
	MaxDelay     string `toml:"max_delay"`     // e.g. "3s"
	MaxAttempts  int    `toml:"max_attempts"`  // Retry attempts for transient portal failures
	RetryBackoff string `toml:"retry_backoff"` // Initial retry backoff, e.g. "1s"
	// ApprovedYears keeps only mappings approved in these years. Empty
	// accepts any year.
	ApprovedYears []string `toml:"approved_years"`
}

// CacheConfig sets the two cache expiry classes: reference data (discovery
// index, changes roughly yearly) and query data (scraped mappings).
type CacheConfig struct {
	ReferenceTTLDays int `toml:"reference_ttl_days"`
	QueryTTLDays     int `toml:"query_ttl_days"`
}

// JobsConfig controls stale-job detection for persisted jobs left in status
// running by a process restart.
type JobsConfig struct {
	StaleThresholdMinutes int    `toml:"stale_threshold_minutes"`
	SweepSchedule         string `toml:"sweep_schedule"` // Cron spec, e.g. "@every 5m"
}

type MatchingConfig struct {
	MinMappableModules int `toml:"min_mappable_modules"`
}

// DatasetConfig points at the static capacity/eligibility dataset produced
// by the external document-extraction step.
type DatasetConfig struct {
	Path string `toml:"path"` // JSON file of university records
}

// WebSocketConfig contains configuration for live progress streaming
type WebSocketConfig struct {
	// ThrottleInterval rate-limits per-target progress broadcasts. Terminal
	// events are never throttled.
	ThrottleInterval string `toml:"throttle_interval"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in permuto.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/permuto",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Portal: PortalConfig{
			Headless:       true,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			RequestTimeout: "45s",
		},
		Scraper: ScraperConfig{
			MinDelay:      "2s",
			MaxDelay:      "3s",
			MaxAttempts:   3,
			RetryBackoff:  "1s",
			ApprovedYears: []string{"2024", "2025", "2026"},
		},
		Cache: CacheConfig{
			ReferenceTTLDays: 365,
			QueryTTLDays:     30,
		},
		Jobs: JobsConfig{
			StaleThresholdMinutes: 10,
			SweepSchedule:         "@every 5m",
		},
		Matching: MatchingConfig{
			MinMappableModules: 2,
		},
		Dataset: DatasetConfig{
			Path: "./data/universities.json",
		},
		WebSocket: WebSocketConfig{
			ThrottleInterval: "500ms",
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
// when the path is empty or missing, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks cross-field constraints that TOML parsing cannot express.
func (c *Config) Validate() error {
	minDelay, err := c.Scraper.MinDelayDuration()
	if err != nil {
		return fmt.Errorf("invalid scraper.min_delay: %w", err)
	}
	maxDelay, err := c.Scraper.MaxDelayDuration()
	if err != nil {
		return fmt.Errorf("invalid scraper.max_delay: %w", err)
	}
	if maxDelay < minDelay {
		return fmt.Errorf("scraper.max_delay (%s) must be >= scraper.min_delay (%s)", maxDelay, minDelay)
	}
	if c.Cache.ReferenceTTLDays <= 0 || c.Cache.QueryTTLDays <= 0 {
		return fmt.Errorf("cache TTLs must be positive (reference=%d, query=%d)",
			c.Cache.ReferenceTTLDays, c.Cache.QueryTTLDays)
	}
	if c.Jobs.StaleThresholdMinutes <= 0 {
		return fmt.Errorf("jobs.stale_threshold_minutes must be positive, got %d", c.Jobs.StaleThresholdMinutes)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PERMUTO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("PERMUTO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PERMUTO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("PERMUTO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("PERMUTO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Portal configuration
	if loginURL := os.Getenv("PERMUTO_PORTAL_LOGIN_URL"); loginURL != "" {
		config.Portal.LoginURL = loginURL
	}
	if searchURL := os.Getenv("PERMUTO_PORTAL_SEARCH_URL"); searchURL != "" {
		config.Portal.SearchURL = searchURL
	}
	if headless := os.Getenv("PERMUTO_PORTAL_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Portal.Headless = h
		}
	}

	// Scraper configuration
	if minDelay := os.Getenv("PERMUTO_SCRAPER_MIN_DELAY"); minDelay != "" {
		if _, err := time.ParseDuration(minDelay); err == nil {
			config.Scraper.MinDelay = minDelay
		}
	}
	if maxDelay := os.Getenv("PERMUTO_SCRAPER_MAX_DELAY"); maxDelay != "" {
		if _, err := time.ParseDuration(maxDelay); err == nil {
			config.Scraper.MaxDelay = maxDelay
		}
	}

	// Cache configuration
	if refTTL := os.Getenv("PERMUTO_CACHE_REFERENCE_TTL_DAYS"); refTTL != "" {
		if d, err := strconv.Atoi(refTTL); err == nil {
			config.Cache.ReferenceTTLDays = d
		}
	}
	if queryTTL := os.Getenv("PERMUTO_CACHE_QUERY_TTL_DAYS"); queryTTL != "" {
		if d, err := strconv.Atoi(queryTTL); err == nil {
			config.Cache.QueryTTLDays = d
		}
	}

	// Jobs configuration
	if threshold := os.Getenv("PERMUTO_JOBS_STALE_THRESHOLD_MINUTES"); threshold != "" {
		if m, err := strconv.Atoi(threshold); err == nil {
			config.Jobs.StaleThresholdMinutes = m
		}
	}

	// Dataset configuration
	if datasetPath := os.Getenv("PERMUTO_DATASET_PATH"); datasetPath != "" {
		config.Dataset.Path = datasetPath
	}
}

// MinDelayDuration parses the minimum inter-request delay.
func (s *ScraperConfig) MinDelayDuration() (time.Duration, error) {
	return time.ParseDuration(s.MinDelay)
}

// MaxDelayDuration parses the maximum inter-request delay.
func (s *ScraperConfig) MaxDelayDuration() (time.Duration, error) {
	return time.ParseDuration(s.MaxDelay)
}

// RetryBackoffDuration parses the initial retry backoff, defaulting to 1s.
func (s *ScraperConfig) RetryBackoffDuration() time.Duration {
	d, err := time.ParseDuration(s.RetryBackoff)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// RequestTimeoutDuration parses the portal operation timeout, defaulting to 45s.
func (p *PortalConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.RequestTimeout)
	if err != nil || d <= 0 {
		return 45 * time.Second
	}
	return d
}

// ReferenceTTL returns the reference-class cache lifetime.
func (c *CacheConfig) ReferenceTTL() time.Duration {
	return time.Duration(c.ReferenceTTLDays) * 24 * time.Hour
}

// QueryTTL returns the query-class cache lifetime.
func (c *CacheConfig) QueryTTL() time.Duration {
	return time.Duration(c.QueryTTLDays) * 24 * time.Hour
}

// StaleThreshold returns the stale-job heartbeat window.
func (j *JobsConfig) StaleThreshold() time.Duration {
	return time.Duration(j.StaleThresholdMinutes) * time.Minute
}

// ThrottleIntervalDuration parses the progress broadcast throttle, defaulting
// to 500ms.
func (w *WebSocketConfig) ThrottleIntervalDuration() time.Duration {
	d, err := time.ParseDuration(w.ThrottleInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}
