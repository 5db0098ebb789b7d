// -----------------------------------------------------------------------
// App - wires storage, credentials, the backend client and the tracker
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/api"
	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/recent"
	"github.com/ternarybob/menulens/internal/services/auth"
	"github.com/ternarybob/menulens/internal/services/events"
	"github.com/ternarybob/menulens/internal/storage"
	"github.com/ternarybob/menulens/internal/tracker"
	"github.com/ternarybob/menulens/internal/transport"
)

// DefaultMinDisplayDuration is used when progress.min_display_duration is empty
const DefaultMinDisplayDuration = 3 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event bus shared by the engine and its listeners
	EventService interfaces.EventService

	Credentials *auth.Provider
	API         *api.Client
	Recent      *recent.Cache
	Tracker     *tracker.Tracker

	// clock overrides the system clock (tests)
	clock common.Clock
}

// Option customizes App construction
type Option func(*App)

// WithClock replaces the system clock used by the tracker
func WithClock(clock common.Clock) Option {
	return func(a *App) {
		a.clock = clock
	}
}

// New initializes the application with the resolved configuration
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("api_base_url", cfg.API.BaseURL).
		Int("recent_capacity", cfg.Recent.Capacity).
		Msg("Application initialization complete")

	return app, nil
}

// Context is cancelled when the application closes
func (a *App) Context() context.Context {
	return a.ctx
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

func (a *App) initServices() error {
	// 1. Event bus, with every event mirrored to the log at debug level
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe logger to events: %w", err)
	}

	// 2. Credentials
	var expiry time.Time
	if a.Config.Auth.Expiry != "" {
		parsed, err := time.Parse(time.RFC3339, a.Config.Auth.Expiry)
		if err != nil {
			return fmt.Errorf("invalid auth.expiry: %w", err)
		}
		expiry = parsed
	}
	a.Credentials = auth.NewStaticProvider(a.Config.Auth.Token, expiry, a.Logger)

	// 3. Backend client
	client, err := api.NewClient(a.Config.API, a.Credentials, api.WithLogger(a.Logger))
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}
	a.API = client

	// 4. Recent-job cache, then a one-off bootstrap from the backend when it is empty
	a.Recent = recent.NewCache(a.Config.Recent.Capacity, a.StorageManager.RecentJobStorage(), a.Logger)
	if err := a.Recent.Load(a.ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load recent jobs")
	}
	if a.Config.Recent.BootstrapOnStartup {
		if fetched, err := a.Recent.Bootstrap(a.ctx, a.API); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to bootstrap recent jobs")
		} else if fetched {
			a.Logger.Debug().Int("count", len(a.Recent.List())).Msg("Recent jobs bootstrapped from backend")
		}
	}

	// 5. Tracker (owns the engine and the transport pair)
	a.Tracker = tracker.New(tracker.Dependencies{
		API:                a.API,
		Credentials:        a.Credentials,
		Events:             a.EventService,
		KV:                 a.StorageManager.KeyValueStorage(),
		Results:            a.StorageManager.ResultStorage(),
		Recent:             a.Recent,
		Clock:              a.clock,
		Timings:            transport.TimingsFromConfig(a.Config.Progress),
		MinDisplayDuration: common.ParseDuration(a.Config.Progress.MinDisplayDuration, DefaultMinDisplayDuration),
	}, a.Logger)

	a.Logger.Debug().Msg("Tracker initialized")

	return nil
}

// Close releases everything in reverse order of construction
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Tracker != nil {
		a.Tracker.Dispose()
		a.Tracker.Wait()
		a.Logger.Debug().Msg("Tracker disposed")
	}

	// Let pending recent-list writes land before the store goes away
	if a.Recent != nil {
		a.Recent.Wait()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
