// Package app assembles the progression engine from configuration. Both the
// worker and the admin CLI start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyquest/progression-engine/config"
	"github.com/storyquest/progression-engine/internal/application/command"
	"github.com/storyquest/progression-engine/internal/application/engine"
	"github.com/storyquest/progression-engine/internal/application/eventhandler"
	"github.com/storyquest/progression-engine/internal/application/query"
	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/internal/infrastructure/catalog"
	"github.com/storyquest/progression-engine/internal/infrastructure/messaging"
	"github.com/storyquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/storyquest/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/storyquest/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/storyquest/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/storyquest/progression-engine/pkg/circuitbreaker"
	"github.com/storyquest/progression-engine/pkg/logger"
	"github.com/storyquest/progression-engine/pkg/retry"
)

// EventBus is the publishing side plus subscription, metrics and shutdown.
type EventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Metrics() *messaging.EventBusMetrics
	Close() error
}

// App holds the wired engine and the resources it owns.
type App struct {
	Config *config.Config
	Logger *logger.Logger
	Engine *engine.Manager
	Bus    EventBus

	db      *postgres.Connection
	cache   *redis.Cache
	writer  achievement.CatalogWriter
	closers []func() error
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// New connects the configured store, cache and event bus and builds the
// engine. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	a := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	deps := engine.Dependencies{Logger: log}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory store, state is lost on exit")
		store := memory.NewStore()
		static, err := catalog.LoadStatic(cfg.Progression.CatalogFile)
		if err != nil {
			return nil, err
		}
		deps.Progression = store
		deps.Unlocks = store
		deps.Standings = store
		deps.Catalog = static
		a.writer = static

	case config.DriverPostgres:
		if err := a.openPostgres(ctx, cfg.Database); err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := a.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		repo := postgres.NewCatalogRepository(a.db)
		deps.Progression = postgres.NewProgressionRepository(a.db)
		deps.Unlocks = postgres.NewUnlockRepository(a.db)
		deps.Standings = postgres.NewLeaderboardRepository(a.db)
		deps.Catalog = repo
		a.writer = repo

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if !cfg.Redis.Disabled {
		a.openRedis(ctx, cfg.Redis)
	}
	if a.cache != nil {
		deps.Cache = redis.NewLeaderboardCache(a.cache).WithBreaker(a.cacheBreaker(cfg.Redis))
	}

	if err := a.openBus(ctx); err != nil {
		return nil, err
	}
	deps.Publisher = a.Bus

	a.Engine = engine.New(deps, engineConfig(cfg))

	if cfg.Progression.AutoUnlock {
		milestones := eventhandler.NewMilestoneHandler(a.Engine, log, eventhandler.DefaultMilestoneConfig())
		if err := milestones.Register(a.Bus); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Streak: command.StreakTrackerConfig{
			Bonus:    cfg.Progression.StreakBonus,
			Location: cfg.Progression.Location,
		},
		Leaderboard: query.LeaderboardRankerConfig{
			DefaultLimit: cfg.Progression.LeaderboardDefaultLimit,
			MaxLimit:     cfg.Progression.LeaderboardMaxLimit,
			CacheTTL:     cfg.Progression.LeaderboardCacheTTL,
		},
	}
}

// openPostgres dials the database, retrying while it comes up. Only the
// dial is retried; engine operations report failures as they happen.
func (a *App) openPostgres(ctx context.Context, cfg config.DatabaseConfig) error {
	a.Logger.Info("connecting to database", logger.Int("attempts", cfg.ConnectAttempts))
	tune := func(pc *pgxpool.Config) {
		pc.MaxConns = int32(cfg.MaxConns)
		pc.MinConns = int32(cfg.MinConns)
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
		pc.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	conn, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.URL, tune)
		if errors.Is(err, postgres.ErrInvalidURL) {
			return nil, retry.Permanent(err)
		}
		return conn, err
	}, retry.ConnectOptions(cfg.ConnectAttempts, a.logRetry("postgres"))...)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = conn
	a.closers = append(a.closers, func() error {
		conn.Close()
		return nil
	})
	return nil
}

// openRedis connects the cache. A failed connection disables caching and
// cross-process events instead of failing startup.
func (a *App) openRedis(ctx context.Context, cfg config.RedisConfig) {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Host
	rc.Port = cfg.Port
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout
	rc.KeyPrefix = cfg.KeyPrefix

	cache, err := retry.DoWithData(ctx, func(context.Context) (*redis.Cache, error) {
		return redis.NewCache(rc)
	}, retry.ConnectOptions(cfg.ConnectAttempts, a.logRetry("redis"))...)
	if err != nil {
		a.Logger.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		return
	}
	a.cache = cache
	a.closers = append(a.closers, cache.Close)
	a.Logger.Info("Redis connection established", logger.String("addr", rc.Addr()))
}

func (a *App) logRetry(backend string) func(int, error, time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		a.Logger.Warn("backend not reachable, retrying",
			logger.String("backend", backend),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	}
}

// cacheBreaker stops page-cache calls after repeated Redis failures so the
// ranker falls back to the store without waiting on timeouts.
func (a *App) cacheBreaker(cfg config.RedisConfig) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New("leaderboard-cache",
		circuitbreaker.WithFailureThreshold(cfg.BreakerThreshold),
		circuitbreaker.WithCooldown(cfg.BreakerCooldown),
		circuitbreaker.WithIsFailure(redis.CacheFailure),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			a.Logger.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	)
}

func (a *App) openBus(ctx context.Context) error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = a.Logger

	if a.cache != nil {
		bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:         a.cache.Client(),
			ChannelName:    a.Config.Redis.EventChannel,
			LocalBusConfig: local,
			Logger:         a.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		a.Bus = bus
	} else {
		a.Bus = messaging.NewInMemoryEventBus(local)
	}
	// The bus must drain before the store closes, so it closes first.
	a.closers = append([]func() error{a.Bus.Close}, a.closers...)

	return a.Bus.SubscribeAll(func(e shared.Event) error {
		a.Logger.Debug("event",
			logger.String("type", string(e.EventType())),
			logger.String("aggregate_id", e.AggregateID()),
		)
		return nil
	})
}

// Migrate applies pending migrations. Memory stores have no schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	if err := postgres.NewMigrator(a.db).Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.Logger.Info("database schema is up to date")
	return nil
}

// RollbackMigration reverts the newest applied migration. It returns nil
// when nothing is applied.
func (a *App) RollbackMigration(ctx context.Context) (*postgres.Migration, error) {
	if a.db == nil {
		return nil, errors.New("rollback requires the postgres store")
	}
	m, err := postgres.NewMigrator(a.db).Rollback(ctx)
	if err != nil {
		return nil, err
	}
	if m != nil {
		a.Logger.Warn("migration rolled back", logger.Int("version", m.Version), logger.String("name", m.Name))
	}
	return m, nil
}

// DatabaseStats reports pool usage, or ok=false on the memory store.
func (a *App) DatabaseStats() (postgres.PoolStats, bool) {
	if a.db == nil {
		return postgres.PoolStats{}, false
	}
	return a.db.Stats(), true
}

// MigrationStatus lists known migrations and when each was applied.
func (a *App) MigrationStatus(ctx context.Context) ([]postgres.Migration, error) {
	if a.db == nil {
		return nil, errors.New("migration status requires the postgres store")
	}
	return postgres.NewMigrator(a.db).Status(ctx)
}

// SeedCatalog upserts the configured catalog file, or the built-in catalog,
// into the active catalog store. Returns the number of definitions written.
func (a *App) SeedCatalog(ctx context.Context, path string) (int, error) {
	if path == "" {
		path = a.Config.Progression.CatalogFile
	}
	defs := achievement.DefaultDefinitions()
	if path != "" {
		var err error
		if defs, err = catalog.LoadFile(path); err != nil {
			return 0, err
		}
	}
	if err := a.writer.Upsert(ctx, defs); err != nil {
		return 0, err
	}
	a.Logger.Info("achievement catalog seeded",
		logger.Int("definitions", len(defs)),
		logger.String("source", sourceName(path)),
	)
	return len(defs), nil
}

func sourceName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

// Locker returns the cluster lease provider, or nil without Redis.
func (a *App) Locker() jobs.Locker {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

// HealthChecks returns a ping per connected backend, keyed by name.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error, 2)
	if a.db != nil {
		checks["postgres"] = a.db.Ping
	}
	if a.cache != nil {
		checks["redis"] = a.cache.Ping
	}
	return checks
}

// Health pings every connected backend.
func (a *App) Health(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// WithTimeout bounds a single engine call by the configured query timeout.
func (a *App) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := a.Config.Database.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Close releases resources in reverse dependency order.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.Logger.Sync()
	return errors.Join(errs...)
}

