// Package breachline is the public API for embedding the breachline control
// server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := breachline.New(
//	    breachline.WithVersion(version),
//	    breachline.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: breachline (root)
// imports internal/*, but internal/* never imports the root.
package breachline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/breachline/breachline/api"
	"github.com/breachline/breachline/internal/agents"
	"github.com/breachline/breachline/internal/auth"
	"github.com/breachline/breachline/internal/catalog"
	"github.com/breachline/breachline/internal/channel"
	"github.com/breachline/breachline/internal/config"
	"github.com/breachline/breachline/internal/execution"
	"github.com/breachline/breachline/internal/ratelimit"
	"github.com/breachline/breachline/internal/scheduler"
	"github.com/breachline/breachline/internal/server"
	"github.com/breachline/breachline/internal/storage"
	"github.com/breachline/breachline/internal/telemetry"
	"github.com/breachline/breachline/migrations"
)

// App is the control server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	hub          *channel.Hub
	registry     *agents.Registry
	execSvc      *execution.Service
	schedSvc     *scheduler.Service
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the control server. It connects to the database, runs
// migrations, loads the technique catalog, and wires all subsystems. It does
// NOT start any goroutines or accept connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.catalogDir != "" {
		cfg.CatalogDir = o.catalogDir
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("breachline starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	if _, err := catalog.Load(context.Background(), db, cfg.CatalogDir, logger); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("catalog: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	hub := channel.NewHub(logger)
	registry := agents.NewRegistry(db, cfg.AgentStaleTimeout, logger)
	execSvc := execution.NewService(db, hub, cfg.PhaseTimeout, logger)
	schedSvc := scheduler.NewService(db, execSvc, cfg.SchedulerTick, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	if cfg.AdminAPIKey == "" {
		logger.Warn("no admin API key configured, /auth/token is disabled")
	}

	handlers, err := server.NewHandlers(server.HandlersDeps{
		Registry:    registry,
		ExecSvc:     execSvc,
		SchedSvc:    schedSvc,
		Catalog:     db,
		Pinger:      db,
		JWTMgr:      jwtMgr,
		Hub:         hub,
		Logger:      logger,
		Version:     version,
		AdminAPIKey: cfg.AdminAPIKey,
	})
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("handlers: %w", err)
	}

	srv := server.NewServer(handlers, server.Options{
		Port:           cfg.Port,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxBodyBytes:   cfg.MaxRequestBodyBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Limiter:        limiter,
		RateLimiting:   cfg.RateLimitEnabled,
		OpenAPISpec:    api.OpenAPISpec,
	}, logger)

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		hub:          hub,
		registry:     registry,
		execSvc:      execSvc,
		schedSvc:     schedSvc,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the scheduler poller, the stale-agent sweeper, and the HTTP
// server, then blocks until ctx is cancelled or a fatal server error occurs.
// On return, Shutdown is called automatically.
func (a *App) Run(ctx context.Context) error {
	a.schedSvc.Start(ctx)
	go a.registry.RunSweeper(ctx, a.cfg.AgentSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains the server in order: stop accepting HTTP requests, stop the
// schedule poller, cancel in-flight executions, close agent channels, then
// release the pool and the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("breachline shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	a.schedSvc.Stop()
	a.execSvc.Close()
	a.hub.CloseAll()
	a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("breachline stopped")
	return nil
}
