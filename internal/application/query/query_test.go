package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/internal/infrastructure/catalog"
	"github.com/storyquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/storyquest/progression-engine/pkg/timeutil"
)

// sliceSource serves arbitrary standings, including combinations the real
// stores cannot produce (levels that disagree with points).
type sliceSource struct {
	standings []leaderboard.Standing
	calls     map[string]int
}

func newSliceSource(standings ...leaderboard.Standing) *sliceSource {
	return &sliceSource{standings: standings, calls: map[string]int{}}
}

func (s *sliceSource) filtered(cohort string) []leaderboard.Standing {
	out := make([]leaderboard.Standing, 0, len(s.standings))
	for _, st := range s.standings {
		if cohort == "" || st.Cohort == cohort {
			out = append(out, st)
		}
	}
	leaderboard.Sort(out)
	return out
}

func (s *sliceSource) Top(_ context.Context, cohort string, limit int) ([]leaderboard.Standing, error) {
	s.calls["top"]++
	out := s.filtered(cohort)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *sliceSource) Standings(_ context.Context, cohort string) ([]leaderboard.Standing, error) {
	s.calls["standings"]++
	return s.filtered(cohort), nil
}

func (s *sliceSource) Standing(_ context.Context, userID string) (leaderboard.Standing, error) {
	for _, st := range s.standings {
		if st.UserID == userID {
			return st, nil
		}
	}
	return leaderboard.Standing{}, shared.ErrUserNotFound
}

func (s *sliceSource) CountAhead(_ context.Context, st leaderboard.Standing, cohort string, pred leaderboard.Predicate) (int, error) {
	s.calls["count"]++
	n := 0
	for _, other := range s.filtered(cohort) {
		if leaderboard.Ahead(other, st) && (pred == nil || pred(other)) {
			n++
		}
	}
	return n, nil
}

// mapCache is a Cache backed by a map.
type mapCache struct {
	pages map[string]*leaderboard.Snapshot
	fail  error
}

func newMapCache() *mapCache {
	return &mapCache{pages: map[string]*leaderboard.Snapshot{}}
}

func cacheKey(cohort string, limit int) string { return fmt.Sprintf("%s/%d", cohort, limit) }

func (c *mapCache) GetTop(_ context.Context, cohort string, limit int) (*leaderboard.Snapshot, bool, error) {
	if c.fail != nil {
		return nil, false, c.fail
	}
	snap, ok := c.pages[cacheKey(cohort, limit)]
	return snap, ok, nil
}

func (c *mapCache) SetTop(_ context.Context, snap *leaderboard.Snapshot, _ time.Duration) error {
	if c.fail != nil {
		return c.fail
	}
	c.pages[cacheKey(snap.Cohort, snap.Limit)] = snap
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, cohort string) error {
	for k, snap := range c.pages {
		if snap.Cohort == cohort {
			delete(c.pages, k)
		}
	}
	return nil
}

func userIDs(entries []leaderboard.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserID
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK
// ══════════════════════════════════════════════════════════════════════════════

func TestRankTieBreak(t *testing.T) {
	source := newSliceSource(
		leaderboard.Standing{UserID: "user-a", TotalPoints: 500, Level: 2, StoryCount: 10},
		leaderboard.Standing{UserID: "user-c", TotalPoints: 500, Level: 3, StoryCount: 1},
		leaderboard.Standing{UserID: "user-b", TotalPoints: 500, Level: 3, StoryCount: 1},
	)
	ranker := NewLeaderboardRanker(source, nil, DefaultLeaderboardRankerConfig(), nil)

	entries, err := ranker.Rank(context.Background(), leaderboard.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-b", "user-c", "user-a"}, userIDs(entries))
	assert.Equal(t, shared.Rank(1), entries[0].Rank)

	// Repeated queries against unchanged data are identical.
	again, err := ranker.Rank(context.Background(), leaderboard.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}

func TestRankWithPredicate(t *testing.T) {
	source := newSliceSource(
		leaderboard.Standing{UserID: "a", TotalPoints: 900, StoryCount: 0},
		leaderboard.Standing{UserID: "b", TotalPoints: 800, StoryCount: 5},
		leaderboard.Standing{UserID: "c", TotalPoints: 700, StoryCount: 2},
		leaderboard.Standing{UserID: "d", TotalPoints: 600, StoryCount: 9},
	)
	cache := newMapCache()
	ranker := NewLeaderboardRanker(source, cache, DefaultLeaderboardRankerConfig(), nil)

	writers := func(s leaderboard.Standing) bool { return s.StoryCount > 0 }
	entries, err := ranker.Rank(context.Background(), leaderboard.Filter{Predicate: writers, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, userIDs(entries))
	assert.Equal(t, shared.Rank(2), entries[1].Rank)
	assert.Empty(t, cache.pages, "predicate pages are never cached")
}

func TestRankUsesCache(t *testing.T) {
	source := newSliceSource(
		leaderboard.Standing{UserID: "a", TotalPoints: 10},
		leaderboard.Standing{UserID: "b", TotalPoints: 20},
	)
	cache := newMapCache()
	ranker := NewLeaderboardRanker(source, cache, DefaultLeaderboardRankerConfig(), nil)
	ctx := context.Background()

	first, err := ranker.Rank(ctx, leaderboard.Filter{Limit: 5})
	require.NoError(t, err)
	second, err := ranker.Rank(ctx, leaderboard.Filter{Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls["top"])

	ranker.Invalidate(ctx, "teens")
	_, err = ranker.Rank(ctx, leaderboard.Filter{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls["top"])
}

func TestRankSurvivesCacheFailure(t *testing.T) {
	source := newSliceSource(leaderboard.Standing{UserID: "a", TotalPoints: 10})
	cache := newMapCache()
	cache.fail = errors.New("redis down")
	ranker := NewLeaderboardRanker(source, cache, DefaultLeaderboardRankerConfig(), nil)

	entries, err := ranker.Rank(context.Background(), leaderboard.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRankRejectsNegativeLimit(t *testing.T) {
	ranker := NewLeaderboardRanker(newSliceSource(), nil, DefaultLeaderboardRankerConfig(), nil)
	_, err := ranker.Rank(context.Background(), leaderboard.Filter{Limit: -3})
	assert.ErrorIs(t, err, shared.ErrInvalidLimit)
}

func TestRefreshWarmsCache(t *testing.T) {
	source := newSliceSource(
		leaderboard.Standing{UserID: "a", TotalPoints: 10, Cohort: "teens"},
		leaderboard.Standing{UserID: "b", TotalPoints: 20},
	)
	cache := newMapCache()
	ranker := NewLeaderboardRanker(source, cache, DefaultLeaderboardRankerConfig(), nil)

	snap, err := ranker.Refresh(context.Background(), "teens", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count())
	assert.Contains(t, cache.pages, cacheKey("teens", leaderboard.DefaultLimit))
}

// ══════════════════════════════════════════════════════════════════════════════
// POSITION OF
// ══════════════════════════════════════════════════════════════════════════════

func TestPositionOfMatchesIndependentCount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	standings := make([]leaderboard.Standing, 0, 300)
	for i := 0; i < 300; i++ {
		points := int64(rng.Intn(40) * 25)
		standings = append(standings, leaderboard.Standing{
			UserID:      fmt.Sprintf("user-%03d", i),
			TotalPoints: points,
			Level:       progression.LevelOf(points),
			StoryCount:  rng.Intn(4),
			Cohort:      []string{"teens", "adults"}[i%2],
		})
	}
	source := newSliceSource(standings...)
	ranker := NewLeaderboardRanker(source, nil, DefaultLeaderboardRankerConfig(), nil)
	ctx := context.Background()

	for _, target := range []string{"user-000", "user-123", "user-250", "user-299"} {
		me, err := source.Standing(ctx, target)
		require.NoError(t, err)

		strictlyGreater := 0
		for _, other := range standings {
			if other.TotalPoints > me.TotalPoints ||
				(other.TotalPoints == me.TotalPoints && other.Level > me.Level) ||
				(other.TotalPoints == me.TotalPoints && other.Level == me.Level && other.StoryCount > me.StoryCount) ||
				(other.TotalPoints == me.TotalPoints && other.Level == me.Level && other.StoryCount == me.StoryCount && other.UserID < me.UserID) {
				strictlyGreater++
			}
		}

		pos, err := ranker.PositionOf(ctx, target, leaderboard.Filter{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, shared.Rank(1+strictlyGreater), pos, target)
	}

	// The position is computed with a count, never by listing everyone.
	assert.Zero(t, source.calls["standings"])
	assert.Equal(t, 4, source.calls["count"])
}

func TestPositionOfConsistentWithRank(t *testing.T) {
	source := newSliceSource(
		leaderboard.Standing{UserID: "a", TotalPoints: 500, Level: 1, Cohort: "teens"},
		leaderboard.Standing{UserID: "b", TotalPoints: 700, Level: 1, Cohort: "adults"},
		leaderboard.Standing{UserID: "c", TotalPoints: 300, Level: 1, Cohort: "teens", StoryCount: 3},
		leaderboard.Standing{UserID: "d", TotalPoints: 300, Level: 1, Cohort: "teens"},
	)
	ranker := NewLeaderboardRanker(source, nil, DefaultLeaderboardRankerConfig(), nil)
	ctx := context.Background()

	filters := []leaderboard.Filter{
		{},
		{Cohort: "teens"},
		{Predicate: func(s leaderboard.Standing) bool { return s.TotalPoints < 600 }},
	}
	for _, f := range filters {
		entries, err := ranker.Rank(ctx, f)
		require.NoError(t, err)
		for _, e := range entries {
			pos, err := ranker.PositionOf(ctx, e.UserID, f)
			require.NoError(t, err)
			assert.Equal(t, e.Rank, pos, e.UserID)
		}
	}
}

func TestPositionOfOutsideFilter(t *testing.T) {
	source := newSliceSource(leaderboard.Standing{UserID: "a", TotalPoints: 5, Cohort: "adults"})
	ranker := NewLeaderboardRanker(source, nil, DefaultLeaderboardRankerConfig(), nil)
	ctx := context.Background()

	pos, err := ranker.PositionOf(ctx, "a", leaderboard.Filter{Cohort: "teens"})
	assert.ErrorIs(t, err, shared.ErrNotRanked)
	assert.True(t, pos.IsUnranked())

	_, err = ranker.PositionOf(ctx, "ghost", leaderboard.Filter{})
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION READER
// ══════════════════════════════════════════════════════════════════════════════

func TestProgressionReader(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	_, _, err := store.Ensure(ctx, "u1", now)
	require.NoError(t, err)

	_, err = store.Mutate(ctx, "u1", func(s *progression.State) ([]progression.PointTransaction, error) {
		award := progression.ApplyPoints(s, 1250)
		s.Streak = 2
		s.LongestStreak = 5
		s.LastActiveDate = timeutil.MustParseDay("2024-01-09")
		return []progression.PointTransaction{progression.NewTransaction("t1", "u1", award, "story", now)}, nil
	})
	require.NoError(t, err)

	_, _, err = store.Insert(ctx, achievement.Unlock{ID: "x", UserID: "u1", AchievementID: "first_story", UnlockedAt: now}, nil)
	require.NoError(t, err)
	_, _, err = store.Insert(ctx, achievement.Unlock{ID: "y", UserID: "u1", AchievementID: "removed_one", UnlockedAt: now}, nil)
	require.NoError(t, err)

	reader := NewProgressionReader(store, store, catalog.Default())

	view, err := reader.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1250), view.TotalPoints)
	assert.Equal(t, 2, view.Level)
	assert.Equal(t, int64(750), view.PointsToNextLevel)
	assert.Equal(t, 5, view.LongestStreak)
	assert.Equal(t, "2024-01-09", view.LastActiveDate.String())

	history, err := reader.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1250), history[0].ResultingTotal)

	unlocks, err := reader.Unlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, 2)
	assert.Equal(t, "First Draft", unlocks[0].Definition.Name)
	assert.Equal(t, "removed_one", unlocks[1].Definition.ID)

	defs, err := reader.Achievements(ctx, achievement.CategoryStreak)
	require.NoError(t, err)
	assert.NotEmpty(t, defs)

	_, err = reader.Get(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}
