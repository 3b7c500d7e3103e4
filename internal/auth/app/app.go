package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/audit"
	httpapi "github.com/aussiebroadwan/tillauth/internal/auth/http"
	"github.com/aussiebroadwan/tillauth/internal/auth/metrics"
	"github.com/aussiebroadwan/tillauth/internal/auth/service"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/aussiebroadwan/tillauth/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/tillauth/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/aussiebroadwan/tillauth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the credential and session services to their stores
// and runs the ops server and background workers.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db      store.Store
	ttl     store.TTLStore
	metrics *metrics.Metrics
	audit   *audit.Queue

	// Services
	tokenService        *service.TokenService
	sessionService      *service.SessionService
	webauthnService     *service.WebAuthnService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg:     cfg,
		logger:  newLogger(cfg),
		metrics: metrics.New(),
	}

	// Set pepper path for client secret hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initTTLStore(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.audit = audit.NewQueue(audit.LogSink{Logger: app.logger}, cfg.AuditQueueSize, app.logger, app.metrics)

	app.initServices()
	if err := app.bootstrap(); err != nil {
		_ = app.ttl.Close()
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Migrate applies database migrations and exits without starting anything.
func Migrate(cfg Config) error {
	logger := newLogger(cfg)
	db, err := sqlite.NewStore(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database migrations applied successfully", "file", cfg.DatabaseFile)
	return nil
}

func (app *Application) Tokens() *service.TokenService { return app.tokenService }
func (app *Application) Sessions() *service.SessionService { return app.sessionService }
func (app *Application) WebAuthn() *service.WebAuthnService { return app.webauthnService }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.audit.Start()
	app.housekeepingService.Start()

	app.logger.Info("tillauth starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the server, then the workers, then closes the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down tillauth...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()
	app.audit.Stop()

	if err := app.ttl.Close(); err != nil {
		app.logger.Error("error closing redis", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("tillauth stopped")
	return nil
}

func newLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "tillauth",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initTTLStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ttl, err := redis.NewStore(ctx, redis.Config{
		Addr:     app.cfg.RedisAddr,
		Username: app.cfg.RedisUsername,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
		Prefix:   app.cfg.RedisPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.ttl = ttl
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.tokenService = &service.TokenService{
		Store:        app.db,
		Audit:        app.audit,
		Metrics:      app.metrics,
		Policy:       &service.Policy{},
		Prefix:       app.cfg.TokenPrefix,
		AccessTTL:    app.cfg.AccessTTL,
		RefreshTTL:   app.cfg.RefreshTTL,
		StoreTimeout: app.cfg.StoreTimeout,
	}

	app.sessionService = &service.SessionService{
		Store:        app.db,
		TTL:          app.ttl,
		Audit:        app.audit,
		Metrics:      app.metrics,
		Prefix:       app.cfg.TokenPrefix,
		SessionTTL:   app.cfg.SessionTTL,
		MaxLifetime:  app.cfg.SessionMaxAge,
		GracePeriod:  app.cfg.RotationGrace,
		StoreTimeout: app.cfg.StoreTimeout,
	}

	app.webauthnService = &service.WebAuthnService{
		Store:         app.db,
		TTL:           app.ttl,
		Audit:         app.audit,
		Metrics:       app.metrics,
		RPID:          app.cfg.RPID,
		RPName:        app.cfg.RPName,
		Origin:        app.cfg.Origin,
		EnforceOrigin: app.cfg.Production(),
		ChallengeTTL:  app.cfg.ChallengeTTL,
		StoreTimeout:  app.cfg.StoreTimeout,
	}
	if !app.cfg.Production() {
		app.logger.Warn("webauthn origin checks disabled outside production", "env", app.cfg.Env)
	}

	app.bootstrapService = &service.BootstrapService{Store: app.db}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.ttl,
		app.metrics,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.StoreTimeout = app.cfg.StoreTimeout
}

// bootstrap seeds an empty store from the policy file, if one is set. The
// generated client secret is logged once.
func (app *Application) bootstrap() error {
	if app.cfg.PolicyFile == "" {
		return nil
	}

	data, err := service.LoadPolicyFile(app.cfg.PolicyFile)
	if err != nil {
		return err
	}

	ctx := slogx.WithContext(context.Background(), app.logger)
	res, err := app.bootstrapService.Bootstrap(ctx, data)
	if errors.Is(err, service.ErrBootstrapAlready) {
		app.logger.Debug("store already bootstrapped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	app.logger.Warn("bootstrap client created; store this secret now, it is not shown again",
		"client_id", res.ClientID,
		"client_secret", res.ClientSecret,
	)
	return nil
}

// initHTTP initializes the ops router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.logger)
	router.Deps["sqlite"] = app.db
	router.Deps["redis"] = app.ttl
	router.Registry = app.metrics.Registry
	if app.cfg.MetricsRequired {
		router.Authorizer = app.tokenService
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
