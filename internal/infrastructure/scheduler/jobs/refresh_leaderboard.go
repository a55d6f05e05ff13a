// Package jobs contains the scheduled jobs run by the progression worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRefresher recomputes and caches a leaderboard page.
// Implemented by engine.Manager.
type LeaderboardRefresher interface {
	RefreshLeaderboard(ctx context.Context, cohort string, limit int) (*leaderboard.Snapshot, error)
}

// Locker grants a cluster-wide lease on a resource. ok is false when another
// holder owns it.
type Locker interface {
	TryLock(ctx context.Context, resource string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// RefreshLeaderboardJob warms the leaderboard page cache for the global
// board and every configured cohort.
type RefreshLeaderboardJob struct {
	refresher LeaderboardRefresher
	locker    Locker
	logger    *logger.Logger
	config    RefreshLeaderboardConfig

	lastStats atomic.Value // *RefreshStats
}

// RefreshLeaderboardConfig contains configuration for the refresh job.
type RefreshLeaderboardConfig struct {
	// Cohorts are refreshed in addition to the global board.
	Cohorts []string

	// Limit is the page size to warm; zero uses the engine default.
	Limit int

	// LockTTL bounds how long one worker holds the refresh lease.
	LockTTL time.Duration
}

// DefaultRefreshLeaderboardConfig returns sensible defaults.
func DefaultRefreshLeaderboardConfig() RefreshLeaderboardConfig {
	return RefreshLeaderboardConfig{
		LockTTL: 30 * time.Second,
	}
}

// RefreshStats contains statistics from a refresh run.
type RefreshStats struct {
	StartedAt        time.Time
	Duration         time.Duration
	CohortsRefreshed int
	EntriesCached    int
	Skipped          bool
	Errors           []error
}

// NewRefreshLeaderboardJob creates the job. locker may be nil, in which case
// every worker refreshes independently.
func NewRefreshLeaderboardJob(refresher LeaderboardRefresher, locker Locker, log *logger.Logger, config RefreshLeaderboardConfig) *RefreshLeaderboardJob {
	if log == nil {
		log = logger.Nop()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultRefreshLeaderboardConfig().LockTTL
	}
	return &RefreshLeaderboardJob{
		refresher: refresher,
		locker:    locker,
		logger:    log.With(logger.Component("refresh_leaderboard")),
		config:    config,
	}
}

// Name returns the job name.
func (j *RefreshLeaderboardJob) Name() string {
	return "refresh_leaderboard"
}

// Description returns a human-readable description.
func (j *RefreshLeaderboardJob) Description() string {
	return "Recomputes and caches the top leaderboard pages"
}

// Run executes the refresh job. A failure in one cohort does not stop the
// others; all failures are joined into the returned error.
func (j *RefreshLeaderboardJob) Run(ctx context.Context) error {
	stats := &RefreshStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	if j.locker != nil {
		release, ok, err := j.locker.TryLock(ctx, j.Name(), j.config.LockTTL)
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			return fmt.Errorf("acquire refresh lease: %w", err)
		}
		if !ok {
			stats.Skipped = true
			j.logger.Debug("refresh skipped, lease held elsewhere")
			return nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("failed to release refresh lease", logger.Err(err))
			}
		}()
	}

	for _, cohort := range j.cohorts() {
		if err := ctx.Err(); err != nil {
			stats.Errors = append(stats.Errors, err)
			break
		}
		snap, err := j.refresher.RefreshLeaderboard(ctx, cohort, j.config.Limit)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("cohort %q: %w", cohort, err))
			continue
		}
		stats.CohortsRefreshed++
		stats.EntriesCached += len(snap.Entries)
	}

	j.logger.Info("leaderboard refreshed",
		logger.Int("cohorts", stats.CohortsRefreshed),
		logger.Int("entries", stats.EntriesCached),
		logger.Int("errors", len(stats.Errors)),
	)
	return errors.Join(stats.Errors...)
}

// cohorts returns the global board followed by each distinct configured cohort.
func (j *RefreshLeaderboardJob) cohorts() []string {
	out := []string{""}
	seen := map[string]bool{"": true}
	for _, c := range j.config.Cohorts {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// LastStats returns statistics from the most recent run, or nil.
func (j *RefreshLeaderboardJob) LastStats() *RefreshStats {
	if s, ok := j.lastStats.Load().(*RefreshStats); ok {
		return s
	}
	return nil
}
