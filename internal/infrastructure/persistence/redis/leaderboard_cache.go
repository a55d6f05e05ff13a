package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD PAGE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache implements leaderboard.Cache with one JSON page per
// (cohort, limit).
//
// Layout:
//   - String "leaderboard:top:{cohort}:{limit}" holds a snapshot
//   - Set "leaderboard:keys:{cohort}" indexes the page keys of a cohort
//
// Invalidation deletes every indexed page of the cohort, so a stale page is
// never served after a committed mutation unless the DEL itself fails; the
// TTL bounds staleness in that case.
type LeaderboardCache struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
}

// NewLeaderboardCache creates a new LeaderboardCache.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// WithBreaker routes every Redis round trip through cb. While cb is open the
// cache methods return circuitbreaker.ErrCircuitOpen without touching Redis.
func (c *LeaderboardCache) WithBreaker(cb *circuitbreaker.CircuitBreaker) *LeaderboardCache {
	c.breaker = cb
	return c
}

func (c *LeaderboardCache) guard(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// CacheFailure classifies errors for a breaker around the page cache.
// Misses and caller cancellation say nothing about Redis health.
func CacheFailure(err error) bool {
	return !errors.Is(err, ErrCacheMiss) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, ErrCacheNilValue) &&
		!errors.Is(err, ErrCacheInvalidTTL)
}

// pageKey is the un-prefixed key of a cached page.
func pageKey(cohort string, limit int) string {
	return fmt.Sprintf("%stop:%s:%d", PrefixLeaderboard, shared.NewCohort(cohort).Key(), limit)
}

// indexKey is the un-prefixed key of a cohort's page index.
func indexKey(cohort string) string {
	return PrefixLeaderboard + "keys:" + shared.NewCohort(cohort).Key()
}

// GetTop returns the cached page, or ok=false on a miss.
func (c *LeaderboardCache) GetTop(ctx context.Context, cohort string, limit int) (*leaderboard.Snapshot, bool, error) {
	var snap leaderboard.Snapshot
	err := c.guard(ctx, func(ctx context.Context) error {
		return c.cache.Get(ctx, pageKey(cohort, limit), &snap)
	})
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

// SetTop stores a page and records it in the cohort's index.
func (c *LeaderboardCache) SetTop(ctx context.Context, snap *leaderboard.Snapshot, ttl time.Duration) error {
	if snap == nil {
		return ErrCacheNilValue
	}
	if ttl <= 0 {
		return ErrCacheInvalidTTL
	}

	return c.guard(ctx, func(ctx context.Context) error {
		page := pageKey(snap.Cohort, snap.Limit)
		if err := c.cache.Set(ctx, page, snap, ttl); err != nil {
			return err
		}

		index := c.cache.Key(indexKey(snap.Cohort))
		_, err := c.cache.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, index, c.cache.Key(page))
			// The index outlives its pages so invalidation can still find them.
			pipe.Expire(ctx, index, 2*ttl)
			return nil
		})
		return err
	})
}

// Invalidate drops every cached page of the cohort.
func (c *LeaderboardCache) Invalidate(ctx context.Context, cohort string) error {
	return c.guard(ctx, func(ctx context.Context) error {
		client := c.cache.Client()
		index := c.cache.Key(indexKey(cohort))

		pages, err := client.SMembers(ctx, index).Result()
		if err != nil {
			return err
		}
		keys := append(pages, index)
		return client.Del(ctx, keys...).Err()
	})
}
