// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD RANKER
// Ordered views over progression records. Reads are lock-free and may lag a
// concurrent write.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRankerConfig configures page sizes and caching.
type LeaderboardRankerConfig struct {
	DefaultLimit int
	MaxLimit     int

	// CacheTTL bounds how stale a cached page may be.
	CacheTTL time.Duration
}

// DefaultLeaderboardRankerConfig returns default configuration.
func DefaultLeaderboardRankerConfig() LeaderboardRankerConfig {
	return LeaderboardRankerConfig{
		DefaultLimit: leaderboard.DefaultLimit,
		MaxLimit:     leaderboard.MaxLimit,
		CacheTTL:     30 * time.Second,
	}
}

// LeaderboardRanker ranks standings with the leaderboard.Ahead chain.
type LeaderboardRanker struct {
	source leaderboard.Source
	cache  leaderboard.Cache
	config LeaderboardRankerConfig
	clock  func() time.Time
	log    *logger.Logger
}

// NewLeaderboardRanker creates a ranker. cache may be nil.
func NewLeaderboardRanker(source leaderboard.Source, cache leaderboard.Cache, config LeaderboardRankerConfig, log *logger.Logger) *LeaderboardRanker {
	defaults := DefaultLeaderboardRankerConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = defaults.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = defaults.MaxLimit
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LeaderboardRanker{
		source: source,
		cache:  cache,
		config: config,
		clock:  func() time.Time { return time.Now().UTC() },
		log:    log.With(logger.Component("leaderboard_ranker")),
	}
}

// SetClock overrides the clock used to stamp snapshots.
func (r *LeaderboardRanker) SetClock(clock func() time.Time) {
	if clock != nil {
		r.clock = clock
	}
}

// Rank returns the top page of the filtered candidate set.
func (r *LeaderboardRanker) Rank(ctx context.Context, filter leaderboard.Filter) ([]leaderboard.Entry, error) {
	f, err := filter.Normalize(r.config.DefaultLimit, r.config.MaxLimit)
	if err != nil {
		return nil, err
	}

	if !f.Cacheable() {
		return r.rankWithPredicate(ctx, f)
	}

	if r.cache != nil {
		snap, ok, err := r.cache.GetTop(ctx, f.Cohort, f.Limit)
		if err != nil {
			r.log.Warn("leaderboard cache read failed", logger.Cohort(f.Cohort), logger.Err(err))
		} else if ok && snap.Covers(f.Limit) {
			return snap.Top(f.Limit), nil
		}
	}

	snap, err := r.load(ctx, f.Cohort, f.Limit)
	if err != nil {
		return nil, err
	}
	r.store(ctx, snap)
	return snap.Entries, nil
}

// rankWithPredicate walks the ordered cohort and keeps the first matches.
func (r *LeaderboardRanker) rankWithPredicate(ctx context.Context, f leaderboard.Filter) ([]leaderboard.Entry, error) {
	all, err := r.source.Standings(ctx, f.Cohort)
	if err != nil {
		return nil, shared.Internal("leaderboard", "Rank", err)
	}

	page := make([]leaderboard.Standing, 0, f.Limit)
	for _, s := range all {
		if !f.Accepts(s) {
			continue
		}
		page = append(page, s)
		if len(page) == f.Limit {
			break
		}
	}
	return leaderboard.Ranked(page), nil
}

// PositionOf returns 1 + the number of candidates strictly ahead of the
// user under the same filter. The source counts only the records ahead of
// the user and never materializes a ranking. Returns shared.ErrNotRanked when the user is
// outside the filter.
func (r *LeaderboardRanker) PositionOf(ctx context.Context, userID string, filter leaderboard.Filter) (shared.Rank, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return shared.Unranked, err
	}
	f, err := filter.Normalize(r.config.DefaultLimit, r.config.MaxLimit)
	if err != nil {
		return shared.Unranked, err
	}

	st, err := r.source.Standing(ctx, id.String())
	if err != nil {
		return shared.Unranked, shared.Internal("leaderboard", "PositionOf", err)
	}
	if !f.Accepts(st) {
		return shared.Unranked, shared.ErrNotRanked
	}

	n, err := r.source.CountAhead(ctx, st, f.Cohort, f.Predicate)
	if err != nil {
		return shared.Unranked, shared.Internal("leaderboard", "PositionOf", err)
	}
	return shared.Rank(n + 1), nil
}

// Refresh recomputes a page from the source and stores it in the cache.
func (r *LeaderboardRanker) Refresh(ctx context.Context, cohort string, limit int) (*leaderboard.Snapshot, error) {
	f, err := leaderboard.Filter{Cohort: cohort, Limit: limit}.Normalize(r.config.DefaultLimit, r.config.MaxLimit)
	if err != nil {
		return nil, err
	}
	snap, err := r.load(ctx, f.Cohort, f.Limit)
	if err != nil {
		return nil, err
	}
	r.store(ctx, snap)
	return snap, nil
}

// Invalidate drops cached pages of the given cohorts plus the global one.
// Failures are logged; the cache TTL bounds staleness regardless.
func (r *LeaderboardRanker) Invalidate(ctx context.Context, cohorts ...string) {
	if r.cache == nil {
		return
	}
	seen := map[string]bool{}
	for _, c := range append([]string{shared.CohortAll}, cohorts...) {
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := r.cache.Invalidate(ctx, c); err != nil {
			r.log.Warn("leaderboard cache invalidation failed", logger.Cohort(c), logger.Err(err))
		}
	}
}

func (r *LeaderboardRanker) load(ctx context.Context, cohort string, limit int) (*leaderboard.Snapshot, error) {
	top, err := r.source.Top(ctx, cohort, limit)
	if err != nil {
		return nil, shared.Internal("leaderboard", "Rank", err)
	}
	return leaderboard.NewSnapshot(cohort, limit, top, r.clock()), nil
}

func (r *LeaderboardRanker) store(ctx context.Context, snap *leaderboard.Snapshot) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetTop(ctx, snap, r.config.CacheTTL); err != nil {
		r.log.Warn("leaderboard cache write failed", logger.Cohort(snap.Cohort), logger.Err(err))
	}
}
