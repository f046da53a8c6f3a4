package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/permuto/internal/common"
	"github.com/ternarybob/permuto/internal/handlers"
	"github.com/ternarybob/permuto/internal/interfaces"
	"github.com/ternarybob/permuto/internal/services/cache"
	"github.com/ternarybob/permuto/internal/services/dataset"
	"github.com/ternarybob/permuto/internal/services/events"
	"github.com/ternarybob/permuto/internal/services/jobs"
	"github.com/ternarybob/permuto/internal/services/match"
	"github.com/ternarybob/permuto/internal/services/portal"
	"github.com/ternarybob/permuto/internal/services/scraper"
	"github.com/ternarybob/permuto/internal/services/session"
	"github.com/ternarybob/permuto/internal/storage/badger"
)

// App wires together every service and handler. Construction order follows
// the dependency chain: storage, then services, then handlers.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB           *badger.BadgerDB
	JobStorage   interfaces.JobStorage
	CacheStorage interfaces.CacheStorage

	EventService interfaces.EventService
	CacheService *cache.Service
	Dataset      *dataset.Loader
	Portal       *portal.Driver
	Sessions     *session.Controller
	Orchestrator *scraper.Orchestrator
	Registry     *jobs.Registry
	Matcher      *match.Service

	JobHandler    *handlers.JobHandler
	SearchHandler *handlers.SearchHandler
	CacheHandler  *handlers.CacheHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
}

// New builds the application from configuration.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.DB = db
	a.JobStorage = badger.NewJobStorage(db, logger)
	a.CacheStorage = badger.NewCacheStorage(db, logger)

	a.EventService = events.NewService(logger)
	a.CacheService = cache.NewService(a.CacheStorage, &config.Cache, logger)

	a.Dataset = dataset.NewLoader(config.Dataset.Path, logger)
	if err := a.Dataset.Load(); err != nil {
		// The dataset file may not exist on first run; searches will
		// exclude everything until it is provided and reloaded.
		logger.Warn().Err(err).Str("path", config.Dataset.Path).Msg("University dataset not loaded")
	}

	a.Portal = portal.NewDriver(&config.Portal, logger)
	if err := a.Portal.Initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize portal driver: %w", err)
	}

	a.Sessions = session.NewController(a.Portal, &config.Scraper, logger)

	a.Orchestrator, err = scraper.NewOrchestrator(a.Sessions, a.Portal, a.CacheService, a.JobStorage, &config.Scraper, logger)
	if err != nil {
		a.Portal.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.Registry = jobs.NewRegistry(a.Orchestrator, a.JobStorage, a.EventService, &config.Jobs, logger)
	a.Matcher = match.NewService(a.CacheService, a.Dataset, &config.Matching, logger)

	a.JobHandler = handlers.NewJobHandler(a.Registry, logger)
	a.SearchHandler = handlers.NewSearchHandler(a.Matcher, logger)
	a.CacheHandler = handlers.NewCacheHandler(a.CacheService, logger)
	a.StatusHandler = handlers.NewStatusHandler(a.JobStorage, a.CacheService, a.Dataset, a.Sessions, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Registry, a.EventService, &config.WebSocket, logger)

	// Settle anything left running by the previous process, then keep
	// sweeping on the schedule.
	if _, err := a.Registry.ForceCancelStale(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial stale-job sweep failed")
	}
	if err := a.Registry.StartSweeper(); err != nil {
		return nil, err
	}

	return a, nil
}

// Close shuts the application down in reverse construction order.
func (a *App) Close() {
	if a.Registry != nil {
		a.Registry.Stop()
	}
	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.Portal != nil {
		if err := a.Portal.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close portal driver")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
}
