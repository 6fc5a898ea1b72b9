// Package app assembles the lifecycle service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"liveclass/internal/api"
	"liveclass/internal/cleanup"
	"liveclass/internal/config"
	"liveclass/internal/credential"
	"liveclass/internal/database"
	"liveclass/internal/hub"
	"liveclass/internal/lock"
	"liveclass/internal/provider"
	"liveclass/internal/provider/hosted"
	"liveclass/internal/provider/rtc"
	"liveclass/internal/registration"
	"liveclass/internal/router"
	"liveclass/internal/session"
	"liveclass/internal/websocket"
	pkgdatabase "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
)

// Application owns every long-lived component.
type Application struct {
	config        *config.Config
	logger        *slog.Logger
	db            *database.Manager
	sessions      *session.Manager
	registrations *registration.Manager
	registry      *websocket.Registry
	hub           *hub.Hub
	locker        interfaces.Locker
	closeLocker   func() error
	worker        *cleanup.Worker
	apiServer     *api.Server
	httpServer    *http.Server

	stopBackground context.CancelFunc
}

// NewApplication wires components in dependency order:
// database, providers, event fan-out, lifecycle managers, sweep lease,
// cleanup worker, API.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := OpenDatabase(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := websocket.NewRegistry()
	var (
		events    interfaces.EventPublisher = interfaces.NopPublisher{}
		eventsHub *hub.Hub
	)
	if cfg.Events.Enabled {
		eventsHub = hub.NewHub(registry, router.NewRouter(registry, logger), cfg.Events.Hub, logger)
		events = eventsHub
	}

	issuer := credential.NewIssuer(providers, cfg.Lifecycle.MaxCredentialTTL)
	sessions := session.NewManager(db, providers, issuer, events, cfg.SessionConfig(), logger)
	registrations := registration.NewManager(db, events, logger)

	locker, closeLocker, err := buildLocker(ctx, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	worker := cleanup.NewWorker(db, sessions, locker, cfg.Cleanup, logger)

	deps := api.Dependencies{
		Sessions:      sessions,
		Registrations: registrations,
		Health:        db,
		Stats:         registry,
		Cleanup:       worker,
	}
	if eventsHub != nil {
		deps.Events = websocket.NewHandler(eventsHub, sessions, api.ActorFromRequest, cfg.Events.WebSocket, logger)
	}
	apiServer := api.NewServer(deps, cfg.HTTP.RateLimit, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		logger:        logger.With(slog.String("component", "app")),
		db:            db,
		sessions:      sessions,
		registrations: registrations,
		registry:      registry,
		hub:           eventsHub,
		locker:        locker,
		closeLocker:   closeLocker,
		worker:        worker,
		apiServer:     apiServer,
		httpServer:    httpServer,
	}, nil
}

// OpenDatabase opens the store and brings its schema up to date.
func OpenDatabase(cfg *pkgdatabase.Config, logger *slog.Logger) (*database.Manager, error) {
	db, err := database.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations := pkgdatabase.NewMigrationManager(db.GetDB())
	applied, err := migrations.ApplyMigrations()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database schema is invalid: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("database migrations applied", slog.Any("versions", applied))
	}
	return db, nil
}

func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	var adapters []interfaces.ProviderAdapter

	if cfg.Providers.Hosted.Enabled() {
		client, err := hosted.New(ctx, cfg.Providers.Hosted)
		if err != nil {
			return nil, fmt.Errorf("hosted provider: %w", err)
		}
		adapters = append(adapters, provider.WithRetry(client, cfg.Providers.Retry))
	}
	if cfg.Providers.RTC.Enabled() {
		adapter, err := rtc.New(cfg.Providers.RTC)
		if err != nil {
			return nil, fmt.Errorf("rtc provider: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	registry := provider.NewRegistry(adapters...)
	if _, err := registry.Get(cfg.Providers.Default); err != nil {
		logger.Warn("default video provider is not configured; session creation will fail",
			slog.String("provider", string(cfg.Providers.Default)))
	}
	return registry, nil
}

func buildLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (interfaces.Locker, func() error, error) {
	if !cfg.Redis.Enabled() {
		logger.Info("using in-process sweep lease")
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locker, err := lock.NewRedisLocker(connectCtx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis sweep lease", slog.String("addr", cfg.Redis.Addr))
	return locker, locker.Close, nil
}

// Start runs background components and then the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (app *Application) Serve(ctx context.Context, listener net.Listener) error {
	// Background components outlive ctx; Stop shuts them down in order.
	ctx = context.WithoutCancel(ctx)
	if app.hub != nil {
		if err := app.hub.Start(ctx); err != nil {
			_ = listener.Close()
			return fmt.Errorf("failed to start event hub: %w", err)
		}
	}
	if err := app.worker.Start(ctx); err != nil {
		app.stopHub()
		_ = listener.Close()
		return fmt.Errorf("failed to start cleanup worker: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	app.stopBackground = cancel
	go app.apiServer.RunLimiterCleanup(bgCtx, time.Minute)

	app.logger.Info("serving", slog.String("addr", listener.Addr().String()))
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("http server stopped", slog.String("err", err.Error()))
		}
	}()
	return nil
}

// Stop shuts components down in reverse order: HTTP, worker, hub, lease,
// database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")
	var errs []error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if app.stopBackground != nil {
		app.stopBackground()
	}
	if err := app.worker.Stop(ctx); err != nil && !errors.Is(err, cleanup.ErrWorkerNotRunning) {
		errs = append(errs, fmt.Errorf("cleanup worker: %w", err))
	}
	app.stopHub()

	if err := app.Close(); err != nil {
		errs = append(errs, err)
	}

	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Close releases the lease client and database without touching the
// listener. Commands that never Start use it directly.
func (app *Application) Close() error {
	var errs []error
	if err := app.closeLocker(); err != nil {
		errs = append(errs, fmt.Errorf("lock: %w", err))
	}
	if err := app.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}

func (app *Application) stopHub() {
	if app.hub == nil {
		return
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("event hub shutdown failed", slog.String("err", err.Error()))
	}
}

// Sweep runs one cleanup pass.
func (app *Application) Sweep(ctx context.Context) (cleanup.SweepReport, error) {
	return app.worker.RunOnce(ctx)
}

// Handler returns the HTTP surface.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
