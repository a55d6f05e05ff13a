package progression

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/timeutil"
)

func TestLevelOf(t *testing.T) {
	cases := []struct {
		points int64
		level  int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{1999, 2},
		{2000, 3},
		{-50, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, LevelOf(tc.points), "points=%d", tc.points)
	}
}

func TestPointsToNextLevel(t *testing.T) {
	assert.Equal(t, int64(1000), PointsToNextLevel(0))
	assert.Equal(t, int64(1), PointsToNextLevel(999))
	assert.Equal(t, int64(1000), PointsToNextLevel(1000))
	assert.Equal(t, int64(250), PointsToNextLevel(1750))
}

func TestLevelFormulaIsConsistent(t *testing.T) {
	for level := 1; level < 50; level++ {
		threshold := PointsForLevel(level)
		assert.Equal(t, level, LevelOf(threshold))
		if threshold > 0 {
			assert.Equal(t, level-1, LevelOf(threshold-1))
			assert.Equal(t, int64(1), PointsToNextLevel(threshold-1))
		}
	}
	assert.Equal(t, 75, LevelProgress(1750))
}

func TestApplyPointsLevelBoundaries(t *testing.T) {
	s := NewState("u1", time.Now())
	s.TotalPoints = 999
	s.RefreshLevel()

	award := ApplyPoints(&s, 1)
	assert.True(t, award.LevelUp())
	assert.Equal(t, 2, award.NewLevel)
	assert.Equal(t, int64(1000), s.TotalPoints)

	s.TotalPoints = 1999
	s.RefreshLevel()
	award = ApplyPoints(&s, 1)
	assert.True(t, award.LevelUp())
	assert.Equal(t, 3, award.NewLevel)
	assert.Equal(t, 2, award.PreviousLevel)
}

func TestApplyPointsClampsAtZero(t *testing.T) {
	s := NewState("u1", time.Now())
	s.TotalPoints = 1200
	s.RefreshLevel()

	award := ApplyPoints(&s, -5000)

	assert.True(t, award.Clamped)
	assert.Equal(t, int64(-5000), award.Requested)
	assert.Equal(t, int64(-1200), award.Applied)
	assert.Equal(t, int64(0), s.TotalPoints)
	assert.Equal(t, 1, s.Level)
	assert.False(t, award.LevelUp())
	require.NoError(t, s.Validate())
}

func TestApplyPointsSaturates(t *testing.T) {
	s := NewState("u1", time.Now())
	s.TotalPoints = math.MaxInt64 - 5
	s.RefreshLevel()

	award := ApplyPoints(&s, 10)
	assert.Equal(t, int64(math.MaxInt64), s.TotalPoints)
	assert.Equal(t, int64(5), award.Applied)
}

func TestNewTransactionMatchesAward(t *testing.T) {
	s := NewState("u1", time.Now())
	s.TotalPoints = 10
	s.RefreshLevel()

	at := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	award := ApplyPoints(&s, -30)
	tx := NewTransaction("tx-1", "u1", award, "correction", at)

	assert.Equal(t, int64(-10), tx.Amount)
	assert.Equal(t, int64(-30), tx.Requested)
	assert.Equal(t, int64(0), tx.ResultingTotal)
	assert.True(t, tx.Clamped())
	assert.Equal(t, at, tx.Timestamp)
}

func TestTouchStreakStateMachine(t *testing.T) {
	start := func() State {
		s := NewState("u1", time.Now())
		s.Streak = 3
		s.LongestStreak = 3
		s.LastActiveDate = timeutil.MustParseDay("2024-01-10")
		return s
	}

	t.Run("same day is a no-op", func(t *testing.T) {
		s := start()
		tr := TouchStreak(&s, timeutil.MustParseDay("2024-01-10"))

		assert.Equal(t, 3, tr.Streak)
		assert.False(t, tr.Broken())
		assert.False(t, tr.Changed())
		assert.Equal(t, 0, tr.DaysSinceLastActive)
		assert.Equal(t, "2024-01-10", s.LastActiveDate.String())
	})

	t.Run("next day increments", func(t *testing.T) {
		s := start()
		tr := TouchStreak(&s, timeutil.MustParseDay("2024-01-11"))

		assert.Equal(t, 4, tr.Streak)
		assert.False(t, tr.Broken())
		assert.True(t, tr.Incremented())
		assert.Equal(t, 4, s.LongestStreak)
		assert.Equal(t, "2024-01-11", s.LastActiveDate.String())
	})

	t.Run("gap resets", func(t *testing.T) {
		s := start()
		tr := TouchStreak(&s, timeutil.MustParseDay("2024-01-15"))

		assert.Equal(t, 1, tr.Streak)
		assert.True(t, tr.Broken())
		assert.Equal(t, 5, tr.DaysSinceLastActive)
		assert.Equal(t, 3, tr.PreviousStreak)
		assert.Equal(t, 3, s.LongestStreak)
		assert.Equal(t, "2024-01-15", s.LastActiveDate.String())
	})

	t.Run("stale day never decreases", func(t *testing.T) {
		s := start()
		tr := TouchStreak(&s, timeutil.MustParseDay("2024-01-08"))

		assert.Equal(t, 3, tr.Streak)
		assert.False(t, tr.Changed())
		assert.Equal(t, "2024-01-10", s.LastActiveDate.String())
	})
}

func TestTouchStreakFirstActivity(t *testing.T) {
	s := NewState("u1", time.Now())
	tr := TouchStreak(&s, timeutil.MustParseDay("2024-03-01"))

	assert.True(t, tr.FirstActivity)
	assert.True(t, tr.Incremented())
	assert.Equal(t, 1, tr.Streak)
	assert.Equal(t, 1, tr.DaysSinceLastActive)
	assert.Equal(t, 1, s.LongestStreak)

	// Touching again the same day must not inflate the streak.
	tr = TouchStreak(&s, timeutil.MustParseDay("2024-03-01"))
	assert.Equal(t, 1, tr.Streak)
	assert.False(t, tr.Changed())
}

func TestStateValidate(t *testing.T) {
	s := NewState("u1", time.Now())
	require.NoError(t, s.Validate())

	s.TotalPoints = 1500
	err := s.Validate()
	require.Error(t, err)
	assert.True(t, shared.IsInternal(err))

	s.RefreshLevel()
	assert.NoError(t, s.Validate())
	assert.Equal(t, int64(500), s.PointsToNextLevel())
}
