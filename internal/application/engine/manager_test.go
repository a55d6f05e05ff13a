package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/internal/infrastructure/catalog"
	"github.com/storyquest/progression-engine/internal/infrastructure/persistence/memory"
)

var fixedNow = time.Date(2024, 1, 11, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type countingCache struct {
	mu          sync.Mutex
	pages       map[string]*leaderboard.Snapshot
	invalidated map[string]int
}

func newCountingCache() *countingCache {
	return &countingCache{pages: map[string]*leaderboard.Snapshot{}, invalidated: map[string]int{}}
}

func (c *countingCache) GetTop(_ context.Context, cohort string, limit int) (*leaderboard.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.pages[fmt.Sprintf("%s:%d", cohort, limit)]
	return snap, ok, nil
}

func (c *countingCache) SetTop(_ context.Context, snap *leaderboard.Snapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[fmt.Sprintf("%s:%d", snap.Cohort, snap.Limit)] = snap
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, cohort string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated[cohort]++
	for k, snap := range c.pages {
		if snap.Cohort == cohort {
			delete(c.pages, k)
		}
	}
	return nil
}

type fixture struct {
	manager   *Manager
	store     *memory.Store
	cache     *countingCache
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	cache := newCountingCache()
	pub := &recordingPublisher{}
	var seq atomic.Int64

	m := New(Dependencies{
		Progression: store,
		Unlocks:     store,
		Catalog:     catalog.Default(),
		Standings:   store,
		Cache:       cache,
		Publisher:   pub,
		Clock:       func() time.Time { return fixedNow },
		NewID:       func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}, DefaultConfig())

	return &fixture{manager: m, store: store, cache: cache, publisher: pub}
}

func (f *fixture) ensure(t *testing.T, users ...string) {
	t.Helper()
	for _, u := range users {
		_, _, err := f.manager.EnsureUser(context.Background(), u)
		require.NoError(t, err)
	}
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, created, err := f.manager.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(0), view.TotalPoints)
	assert.Equal(t, 1, view.Level)

	_, created, err = f.manager.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, []shared.EventType{shared.EventUserEnsured}, f.publisher.types())

	_, _, err = f.manager.EnsureUser(ctx, "")
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)
}

func TestAwardPointsPublishesAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.ensure(t, "alice")
	ctx := WithCorrelationID(context.Background(), "req-1")

	res, err := f.manager.AwardPoints(ctx, "alice", 1200, "story_published")
	require.NoError(t, err)
	assert.True(t, res.LevelUp)
	assert.Equal(t, 2, res.NewLevel)

	assert.Contains(t, f.publisher.types(), shared.EventPointsAwarded)
	assert.Contains(t, f.publisher.types(), shared.EventLevelUp)
	for _, e := range res.Events {
		if c, ok := e.(interface{ Correlation() string }); ok {
			assert.Equal(t, "req-1", c.Correlation())
		}
	}
	assert.Positive(t, f.cache.invalidated[""])
}

func TestAwardPointsUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.AwardPoints(context.Background(), "ghost", 10, "x")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
	assert.Empty(t, f.publisher.types())
}

func TestAwardPointsClampWarning(t *testing.T) {
	f := newFixture(t)
	f.ensure(t, "alice")
	ctx := context.Background()

	_, err := f.manager.AwardPoints(ctx, "alice", 100, "seed")
	require.NoError(t, err)

	res, err := f.manager.AwardPoints(ctx, "alice", -500, "correction")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning(), shared.ErrPointsClamped)
	assert.Equal(t, int64(0), res.NewTotal)
	assert.Equal(t, int64(-100), res.Applied)
}

func TestPublisherFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.ensure(t, "alice")
	f.publisher.err = errors.New("broker down")

	res, err := f.manager.AwardPoints(context.Background(), "alice", 10, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.NewTotal)
}

func TestUnlockAchievementOnce(t *testing.T) {
	f := newFixture(t)
	f.ensure(t, "alice")
	ctx := context.Background()

	first, err := f.manager.UnlockAchievement(ctx, "alice", "first_story", map[string]string{"story_id": "s-1"})
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, int64(50), first.PointsAwarded)

	again, err := f.manager.UnlockAchievement(ctx, "alice", "first_story", nil)
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.True(t, again.AlreadyUnlocked)

	view, err := f.manager.GetUserProgression(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), view.TotalPoints)

	unlocks, err := f.manager.ListUnlocks(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "First Draft", unlocks[0].Definition.Name)

	_, err = f.manager.UnlockAchievement(ctx, "alice", "no_such_thing", nil)
	assert.ErrorIs(t, err, shared.ErrAchievementNotFound)
}

func TestConcurrentUnlockCreditsOnce(t *testing.T) {
	f := newFixture(t)
	f.ensure(t, "alice")

	var successes atomic.Int64
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			res, err := f.manager.UnlockAchievement(context.Background(), "alice", "streak_7", nil)
			if err != nil {
				return err
			}
			if res.Success {
				successes.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), successes.Load())

	view, err := f.manager.GetUserProgression(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), view.TotalPoints)
}

func TestUpdateWritingStreak(t *testing.T) {
	f := newFixture(t)
	f.ensure(t, "alice")
	ctx := context.Background()

	day := func(s string) *time.Time {
		d, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return &d
	}

	res, err := f.manager.UpdateWritingStreak(ctx, "alice", day("2024-01-10"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)

	res, err = f.manager.UpdateWritingStreak(ctx, "alice", day("2024-01-11"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Streak)

	res, err = f.manager.UpdateWritingStreak(ctx, "alice", day("2024-01-11"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Streak)
	assert.False(t, res.Changed)

	res, err = f.manager.UpdateWritingStreak(ctx, "alice", day("2024-01-20"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.True(t, res.StreakBroken)
	assert.Contains(t, f.publisher.types(), shared.EventStreakBroken)

	// Defaults to the injected clock's day.
	res, err = f.manager.UpdateWritingStreak(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-11", res.Today.String())
	assert.Equal(t, 1, res.Streak)
	assert.False(t, res.Changed)
}

func TestGetLeaderboardRequesterOffPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		user := fmt.Sprintf("user-%02d", i)
		f.ensure(t, user)
		_, err := f.manager.AwardPoints(ctx, user, int64(100*(i+1)), "seed")
		require.NoError(t, err)
	}

	res, err := f.manager.GetLeaderboard(ctx, "user-00", LeaderboardRequest{Limit: 5})
	require.NoError(t, err)
	require.Len(t, res.Entries, 5)
	assert.Equal(t, "user-14", res.Entries[0].UserID)
	assert.Equal(t, shared.Rank(15), res.RequesterRank)

	res, err = f.manager.GetLeaderboard(ctx, "user-13", LeaderboardRequest{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(2), res.RequesterRank)

	res, err = f.manager.GetLeaderboard(ctx, "", LeaderboardRequest{})
	require.NoError(t, err)
	assert.Len(t, res.Entries, leaderboard.DefaultLimit)
	assert.True(t, res.RequesterRank.IsUnranked())

	res, err = f.manager.GetLeaderboard(ctx, "nobody", LeaderboardRequest{Limit: 3})
	require.NoError(t, err)
	assert.True(t, res.RequesterRank.IsUnranked())

	_, err = f.manager.GetLeaderboard(ctx, "", LeaderboardRequest{Limit: -1})
	assert.ErrorIs(t, err, shared.ErrInvalidLimit)
}

func TestGetLeaderboardWithCohortAndPredicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ensure(t, "a", "b", "c", "d")

	for user, pts := range map[string]int64{"a": 500, "b": 400, "c": 300, "d": 200} {
		_, err := f.manager.AwardPoints(ctx, user, pts, "seed")
		require.NoError(t, err)
	}
	_, err := f.manager.AssignCohort(ctx, "b", "spring")
	require.NoError(t, err)
	_, err = f.manager.AssignCohort(ctx, "d", "spring")
	require.NoError(t, err)

	res, err := f.manager.GetLeaderboard(ctx, "d", LeaderboardRequest{Cohort: "spring"})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "b", res.Entries[0].UserID)
	assert.Equal(t, shared.Rank(2), res.RequesterRank)

	res, err = f.manager.GetLeaderboard(ctx, "a", LeaderboardRequest{Cohort: "spring"})
	require.NoError(t, err)
	assert.True(t, res.RequesterRank.IsUnranked())

	onlyEven := func(s leaderboard.Standing) bool { return s.TotalPoints%200 == 0 }
	res, err = f.manager.GetLeaderboard(ctx, "d", LeaderboardRequest{Predicate: onlyEven})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "b", res.Entries[0].UserID)
	assert.Equal(t, shared.Rank(2), res.RequesterRank)
}

func TestAssignCohortInvalidatesBothCohorts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ensure(t, "alice")

	_, err := f.manager.AssignCohort(ctx, "alice", "spring")
	require.NoError(t, err)
	_, err = f.manager.AssignCohort(ctx, "alice", "autumn")
	require.NoError(t, err)

	assert.Positive(t, f.cache.invalidated["spring"])
	assert.Positive(t, f.cache.invalidated["autumn"])

	_, err = f.manager.AssignCohort(ctx, "ghost", "spring")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

func TestLeaderboardCacheIsInvalidatedByAwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ensure(t, "a", "b")

	_, err := f.manager.AwardPoints(ctx, "a", 10, "seed")
	require.NoError(t, err)
	res, err := f.manager.GetLeaderboard(ctx, "", LeaderboardRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Entries[0].UserID)

	_, err = f.manager.AwardPoints(ctx, "b", 50, "seed")
	require.NoError(t, err)
	res, err = f.manager.GetLeaderboard(ctx, "", LeaderboardRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Entries[0].UserID)
}

func TestRecordStoryBreaksTies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ensure(t, "a", "b")

	_, err := f.manager.AwardPoints(ctx, "a", 100, "seed")
	require.NoError(t, err)
	_, err = f.manager.AwardPoints(ctx, "b", 100, "seed")
	require.NoError(t, err)

	res, err := f.manager.GetLeaderboard(ctx, "", LeaderboardRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Entries[0].UserID)

	view, err := f.manager.RecordStory(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, view.StoryCount)

	res, err = f.manager.GetLeaderboard(ctx, "", LeaderboardRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Entries[0].UserID)
}

func TestPointHistoryAndAchievements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ensure(t, "alice")

	_, err := f.manager.AwardPoints(ctx, "alice", 10, "first")
	require.NoError(t, err)
	_, err = f.manager.AwardPoints(ctx, "alice", 20, "second")
	require.NoError(t, err)

	history, err := f.manager.PointHistory(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Reason)
	assert.Equal(t, int64(30), history[0].ResultingTotal)

	streak, err := f.manager.ListAchievements(ctx, "streak")
	require.NoError(t, err)
	for _, d := range streak {
		assert.Equal(t, "streak", string(d.Category))
	}
	all, err := f.manager.ListAchievements(ctx, "")
	require.NoError(t, err)
	assert.Greater(t, len(all), len(streak))
}

func TestRefreshLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ensure(t, "a")

	snap, err := f.manager.RefreshLeaderboard(ctx, "", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count())
	assert.Equal(t, fixedNow, snap.GeneratedAt)
	assert.Contains(t, f.publisher.types(), shared.EventLeaderboardRefreshed)

	cached, ok, err := f.cache.GetTop(ctx, "", 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cached.Count())
}
