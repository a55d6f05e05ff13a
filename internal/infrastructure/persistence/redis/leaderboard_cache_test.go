package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/pkg/circuitbreaker"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "leaderboard:top:all:10", pageKey("", 10))
	assert.Equal(t, "leaderboard:top:c:spring:25", pageKey(" spring ", 25))
	assert.Equal(t, "leaderboard:keys:all", indexKey(""))
	assert.Equal(t, "leaderboard:keys:c:spring", indexKey("spring"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, cfg.Addr(), cfg.Options().Addr)
}

// newTestCache connects to PROGRESSION_TEST_REDIS_ADDR under a unique key
// prefix. Tests are skipped when it is unset.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("PROGRESSION_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PROGRESSION_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client, "progression-test:"+t.Name()+":"+time.Now().Format("150405.000000")+":")
}

func TestLeaderboardCacheRoundTrip(t *testing.T) {
	cache := NewLeaderboardCache(newTestCache(t))
	ctx := context.Background()
	at := time.Date(2024, 1, 11, 9, 30, 0, 0, time.UTC)

	_, ok, err := cache.GetTop(ctx, "", 10)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := leaderboard.NewSnapshot("", 10, []leaderboard.Standing{
		{UserID: "a", TotalPoints: 1500, Level: 2},
		{UserID: "b", TotalPoints: 10, Level: 1},
	}, at)
	require.NoError(t, cache.SetTop(ctx, snap, time.Minute))

	cohortSnap := leaderboard.NewSnapshot("spring", 5, []leaderboard.Standing{{UserID: "c", Level: 1, Cohort: "spring"}}, at)
	require.NoError(t, cache.SetTop(ctx, cohortSnap, time.Minute))

	got, ok, err := cache.GetTop(ctx, "", 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Entries, got.Entries)
	assert.True(t, at.Equal(got.GeneratedAt))

	require.NoError(t, cache.Invalidate(ctx, ""))
	_, ok, err = cache.GetTop(ctx, "", 10)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = cache.GetTop(ctx, "spring", 5)
	require.NoError(t, err)
	assert.True(t, ok, "other cohorts survive")
}

func TestTryLock(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	release, ok, err := cache.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = cache.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = cache.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaderboardCacheBreakerShortCircuits(t *testing.T) {
	// Nothing listens on port 1; every round trip fails fast.
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cb := circuitbreaker.New("leaderboard-cache",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithCooldown(time.Hour),
		circuitbreaker.WithIsFailure(CacheFailure),
	)
	cache := NewLeaderboardCache(NewCacheFromClient(client, "progression:")).WithBreaker(cb)
	ctx := context.Background()

	_, _, err := cache.GetTop(ctx, "", 10)
	require.Error(t, err)
	assert.False(t, circuitbreaker.IsRejected(err))
	require.Error(t, cache.Invalidate(ctx, ""))

	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
	_, _, err = cache.GetTop(ctx, "", 10)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestCacheFailure(t *testing.T) {
	assert.False(t, CacheFailure(ErrCacheMiss))
	assert.False(t, CacheFailure(context.Canceled))
	assert.True(t, CacheFailure(ErrCacheConnection))
	assert.True(t, CacheFailure(context.DeadlineExceeded))
}
