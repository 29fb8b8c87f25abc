package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/compliance-ledger/auth"
	"github.com/upb/compliance-ledger/config"
	"github.com/upb/compliance-ledger/internal/observability"
	"github.com/upb/compliance-ledger/middleware"
	"github.com/upb/compliance-ledger/repositories"
	"github.com/upb/compliance-ledger/repositories/memory"
	"github.com/upb/compliance-ledger/repositories/sqlstore"
	"github.com/upb/compliance-ledger/services/audit"
	"github.com/upb/compliance-ledger/services/catalog"
	"github.com/upb/compliance-ledger/services/contentstore"
	"github.com/upb/compliance-ledger/services/export"
	"github.com/upb/compliance-ledger/services/graph"
	"github.com/upb/compliance-ledger/services/ledger"
	"github.com/upb/compliance-ledger/services/ratelimit"
	"github.com/upb/compliance-ledger/services/snapshot"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *sqlstore.DB // nil for the memory driver
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Storage
	ContentBackend  contentstore.Backend
	ArtifactBackend contentstore.Backend

	// Services
	Audit   *audit.AuditService
	Ledger  *ledger.Service
	Graph   *graph.Service
	Exports *export.Service
	Seeder  *catalog.Seeder

	// Auth and rate limiting
	TokenValidator      *auth.TokenValidator
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimiter         *ratelimit.RateLimitService
	RateLimitMiddleware *middleware.RateLimitMiddleware
	redisStore          *ratelimit.RedisStore
	memoryLimiter       *ratelimit.MemoryStore

	metricsProvider *observability.Provider
	cancelWorkers   context.CancelFunc
	started         bool
}

// NewDependencies creates and wires up all application dependencies.
// Background workers are not started; call Start.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initMetrics(ctx, cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initRateLimit(ctx, cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the configured database or falls back to in-memory repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Driver == config.DriverMemory {
		d.Repos = memory.NewRepositories()
		d.TxManager = memory.NewTransactionManager()
		d.Logger.Warn("using in-memory repositories, data is lost on restart")
		return nil
	}

	factory, err := sqlstore.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	// Test the connection
	if err := d.DB.PingContext(ctx); err != nil {
		factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("database connection established",
		zap.String("driver", cfg.Database.Driver),
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

func (d *Dependencies) initMetrics(ctx context.Context, cfg *config.Config) error {
	provider, err := observability.NewProvider(ctx, cfg, d.Logger)
	if err != nil {
		return err
	}
	metrics, err := observability.NewMetrics(provider.Meter())
	if err != nil {
		return err
	}
	d.metricsProvider = provider
	d.Metrics = metrics
	return nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	content, err := contentstore.NewBackend(ctx, cfg.ContentStore, cfg.Evidence, d.Logger.Named("content"))
	if err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	artifacts, err := contentstore.NewBackend(ctx, cfg.ArtifactStore, cfg.Evidence, d.Logger.Named("artifacts"))
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	d.ContentBackend = content
	d.ArtifactBackend = artifacts
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	d.Audit = audit.NewAuditService(d.Repos.AuditLogs, d.Logger.Named("audit"), audit.DefaultConfig())

	store := contentstore.New(d.ContentBackend, d.Logger.Named("content"))
	d.Ledger = ledger.NewService(d.Repos, d.TxManager, store, d.Audit, d.Metrics,
		ledger.Config{MaxUploadBytes: cfg.Evidence.MaxUploadBytes}, d.Logger.Named("ledger"))
	d.Graph = graph.NewService(d.Repos, d.Audit, d.Logger.Named("graph"))

	exportCfg := export.DefaultConfig()
	exportCfg.Workers = cfg.Exports.Workers
	exportCfg.QueueSize = cfg.Exports.QueueSize
	d.Exports = export.NewService(d.Repos,
		snapshot.NewBuilder(d.Repos, d.Logger.Named("snapshot")),
		export.NewPackager(store, d.Logger.Named("packager")),
		export.NewArtifactStore(d.ArtifactBackend, d.Logger.Named("artifacts")),
		export.NewArtifactCache(cfg.Exports.CacheSize, cfg.Exports.CacheTTL),
		d.Audit, d.Metrics, exportCfg, d.Logger.Named("export"))

	d.Seeder = catalog.NewSeeder(d.Repos, cat, d.Audit, d.Logger.Named("catalog"))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, protected routes reject every request")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return nil
	}
	validator, err := auth.NewTokenValidator(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return err
	}
	d.TokenValidator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	return nil
}

// initRateLimit prefers Redis when configured and keeps an in-process limiter as fallback
func (d *Dependencies) initRateLimit(ctx context.Context, cfg *config.Config) {
	if !cfg.RateLimit.Enabled {
		d.Logger.Info("rate limiting disabled")
		return
	}
	policy := ratelimit.Policy{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}
	d.memoryLimiter = ratelimit.NewMemoryStore()

	var primary ratelimit.Store = d.memoryLimiter
	if cfg.Redis.URL != "" {
		client, err := ratelimit.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			d.Logger.Warn("invalid REDIS_URL, using in-process rate limiter", zap.Error(err))
		} else {
			d.redisStore = ratelimit.NewRedisStore(client)
			if err := d.redisStore.Ping(ctx); err != nil {
				d.Logger.Warn("redis unreachable at startup, falling back per request", zap.Error(err))
			}
			primary = d.redisStore
		}
	}

	d.RateLimiter = ratelimit.NewRateLimitService(primary, d.memoryLimiter, policy, d.Logger.Named("ratelimit"))
	d.RateLimitMiddleware = middleware.NewRateLimitMiddleware(d.RateLimiter, d.Logger)
}

// Start seeds the catalog and starts background workers
func (d *Dependencies) Start(ctx context.Context) error {
	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}
	if err := d.Seeder.SyncFrameworks(ctx); err != nil {
		return fmt.Errorf("failed to sync frameworks: %w", err)
	}
	if _, err := d.Seeder.SeedAll(ctx); err != nil {
		return fmt.Errorf("failed to seed organizations: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	d.cancelWorkers = cancel

	if err := d.Exports.Start(ctx); err != nil {
		return fmt.Errorf("failed to start export service: %w", err)
	}
	if d.memoryLimiter != nil {
		go d.memoryLimiter.StartCleanupWorker(workerCtx, time.Minute, 10*time.Minute, d.Logger)
	}
	if d.Config.Catalog.Watch && d.Config.Catalog.Path != "" {
		watcher, err := catalog.NewWatcher(d.Seeder, d.Config.Catalog.Path, d.Logger.Named("catalog"))
		if err != nil {
			return fmt.Errorf("failed to watch catalog: %w", err)
		}
		go func() {
			if err := watcher.Run(workerCtx); err != nil {
				d.Logger.Error("catalog watcher stopped", zap.Error(err))
			}
		}()
	}
	d.started = true
	return nil
}

// ReadinessChecks lists the dependency checks exposed on /health/ready
func (d *Dependencies) ReadinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"content_store": backendCheck(d.ContentBackend),
	}
	if d.redisStore != nil {
		checks["redis"] = d.redisStore.Ping
	}
	return checks
}

// backendCheck treats a missing health object as healthy; only transport errors fail
func backendCheck(backend contentstore.Backend) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := backend.Exists(ctx, "healthcheck")
		return err
	}
}

// rejectAllValidator rejects all tokens (used when no secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*auth.ParsedClaims, error) {
	return nil, errors.New("authentication not configured")
}

func (d *Dependencies) closeDatabase() {
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancelWorkers != nil {
		d.cancelWorkers()
	}

	if d.started {
		d.started = false
		// exports first: finishing jobs still write audit entries
		if err := d.Exports.Stop(d.Config.Exports.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop export service: %w", err))
		}
		if err := d.Audit.Stop(5 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.metricsProvider != nil {
		if err := d.metricsProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush metrics: %w", err))
		}
		d.metricsProvider = nil
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
