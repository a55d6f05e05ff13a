// Package main is the entry point of the progression worker.
//
// The worker keeps derived data warm: it periodically recomputes the
// leaderboard pages for the global board and the configured cohorts and
// stores them in the Redis page cache, so reads between writes stay cheap.
// It also serves /healthz, /readyz and /status for the orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storyquest/progression-engine/config"
	"github.com/storyquest/progression-engine/internal/app"
	"github.com/storyquest/progression-engine/internal/infrastructure/messaging"
	"github.com/storyquest/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/storyquest/progression-engine/internal/infrastructure/scheduler"
	"github.com/storyquest/progression-engine/internal/infrastructure/scheduler/jobs"
	opshttp "github.com/storyquest/progression-engine/internal/interface/http"
	"github.com/storyquest/progression-engine/internal/interface/http/handlers"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg).With(logger.Component("worker"))
	log.Info("starting progression worker",
		logger.String("version", cfg.App.Version),
		logger.String("store", cfg.Store.Driver),
		logger.String("timezone", cfg.Progression.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ENGINE (store, cache, event bus)
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("releasing resources...")
		if err := a.Close(); err != nil {
			log.Error("failed to release resources", logger.Err(err))
		}
	}()

	if cfg.Store.Driver == config.DriverPostgres && cfg.Database.AutoMigrate {
		if _, err := a.SeedCatalog(ctx, ""); err != nil {
			return fmt.Errorf("failed to seed achievement catalog: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.Progression.Location
	schedCfg.JobTimeout = cfg.Scheduler.JobTimeout

	sched, err := scheduler.NewScheduler(schedCfg)
	if err != nil {
		return err
	}

	var refresh *jobs.RefreshLeaderboardJob
	if cfg.Scheduler.Enabled {
		refresh = jobs.NewRefreshLeaderboardJob(a.Engine, a.Locker(), log, jobs.RefreshLeaderboardConfig{
			Cohorts: cfg.Scheduler.Cohorts,
			Limit:   cfg.Progression.LeaderboardDefaultLimit,
			LockTTL: cfg.Scheduler.RefreshInterval,
		})
		if err := sched.Every(refresh, cfg.Scheduler.RefreshInterval, true); err != nil {
			return err
		}
	} else {
		log.Warn("scheduler disabled, worker will only serve health checks")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. OPS ENDPOINTS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewHealthChecker(cfg.App.Version)
	for name, check := range a.HealthChecks() {
		health.Add(name, check)
	}
	opsCfg := opshttp.DefaultConfig()
	opsCfg.Addr = cfg.Ops.Addr
	opsCfg.ShutdownTimeout = cfg.App.ShutdownTimeout
	ops := opshttp.NewServer(opsCfg, opshttp.Dependencies{
		Logger: log,
		Health: health,
		Status: func(context.Context) any {
			return buildStatus(a, sched, refresh)
		},
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. RUN UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		log.Info("stopping scheduler...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
		return stopWithin(sched, cfg.App.ShutdownTimeout)
	})

	g.Go(func() error {
		return watchHealth(gctx, a, log)
	})

	if cfg.Ops.Enabled {
		g.Go(func() error {
			return ops.Run(gctx)
		})
	}

	log.Info("progression worker is running",
		logger.Duration("refresh_interval", cfg.Scheduler.RefreshInterval),
		logger.Int("cohorts", len(cfg.Scheduler.Cohorts)),
		logger.Bool("ops_http", cfg.Ops.Enabled),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// workerStatus is the /status document.
type workerStatus struct {
	Jobs     []jobStatus                       `json:"jobs"`
	Refresh  *refreshStatus                    `json:"refresh,omitempty"`
	Events   messaging.EventBusMetricsSnapshot `json:"events"`
	Database *postgres.PoolStats               `json:"database,omitempty"`
}

type jobStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastSuccess *bool      `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type refreshStatus struct {
	StartedAt        time.Time `json:"started_at"`
	Duration         string    `json:"duration"`
	CohortsRefreshed int       `json:"cohorts_refreshed"`
	EntriesCached    int       `json:"entries_cached"`
	Skipped          bool      `json:"skipped"`
	Errors           int       `json:"errors"`
}

func buildStatus(a *app.App, sched *scheduler.Scheduler, refresh *jobs.RefreshLeaderboardJob) workerStatus {
	status := workerStatus{Jobs: []jobStatus{}, Events: a.Bus.Metrics().Snapshot()}
	if stats, ok := a.DatabaseStats(); ok {
		status.Database = &stats
	}

	for _, info := range sched.Jobs() {
		js := jobStatus{Name: info.Name, Description: info.Description}
		if r := info.LastRun; r != nil {
			at, ok := r.StartedAt, r.Success
			js.LastRunAt = &at
			js.LastSuccess = &ok
			if r.Error != nil {
				js.LastError = r.Error.Error()
			}
		}
		status.Jobs = append(status.Jobs, js)
	}

	if refresh != nil {
		if st := refresh.LastStats(); st != nil {
			status.Refresh = &refreshStatus{
				StartedAt:        st.StartedAt,
				Duration:         st.Duration.String(),
				CohortsRefreshed: st.CohortsRefreshed,
				EntriesCached:    st.EntriesCached,
				Skipped:          st.Skipped,
				Errors:           len(st.Errors),
			}
		}
	}
	return status
}

// stopWithin stops the scheduler, giving up after timeout.
func stopWithin(sched *scheduler.Scheduler, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- sched.Stop() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("scheduler did not stop within %s", timeout)
	}
}

// watchHealth logs backend health once a minute until ctx ends.
func watchHealth(ctx context.Context, a *app.App, log *logger.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.Health(hctx); err != nil {
				log.Warn("health check failed", logger.Err(err))
			}
			cancel()
		}
	}
}
