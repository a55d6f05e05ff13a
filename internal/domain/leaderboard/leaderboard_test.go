package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

func TestAheadTieBreakChain(t *testing.T) {
	a := Standing{UserID: "user-a", TotalPoints: 500, Level: 2, StoryCount: 10}
	b := Standing{UserID: "user-b", TotalPoints: 500, Level: 3, StoryCount: 1}
	c := Standing{UserID: "user-c", TotalPoints: 500, Level: 3, StoryCount: 1}

	standings := []Standing{a, c, b}
	Sort(standings)

	require.Len(t, standings, 3)
	assert.Equal(t, "user-b", standings[0].UserID, "level wins over story count")
	assert.Equal(t, "user-c", standings[1].UserID, "identical keys fall back to user id")
	assert.Equal(t, "user-a", standings[2].UserID)
}

func TestAheadIsStrict(t *testing.T) {
	s := Standing{UserID: "u", TotalPoints: 10, Level: 1}
	assert.False(t, Ahead(s, s))

	rich := Standing{UserID: "z", TotalPoints: 11, Level: 1}
	assert.True(t, Ahead(rich, s))
	assert.False(t, Ahead(s, rich))

	prolific := Standing{UserID: "z", TotalPoints: 10, Level: 1, StoryCount: 4}
	assert.True(t, Ahead(prolific, s))
}

func TestRankedAssignsConsecutiveRanks(t *testing.T) {
	entries := Ranked([]Standing{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}})

	assert.Equal(t, shared.Rank(1), entries[0].Rank)
	assert.Equal(t, shared.Rank(3), entries[2].Rank)

	e, ok := Find(entries, "b")
	require.True(t, ok)
	assert.Equal(t, shared.Rank(2), e.Rank)

	_, ok = Find(entries, "missing")
	assert.False(t, ok)
}

func TestFromState(t *testing.T) {
	s := progression.NewState("u1", time.Now())
	s.TotalPoints = 2500
	s.RefreshLevel()
	s.StoryCount = 7
	s.Streak = 2
	s.Cohort = "teens"

	st := FromState(s)
	assert.Equal(t, Standing{UserID: "u1", TotalPoints: 2500, Level: 3, StoryCount: 7, Streak: 2, Cohort: "teens"}, st)
}

func TestFilterNormalize(t *testing.T) {
	f, err := Filter{}.Normalize(0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, f.Limit)

	f, err = Filter{Limit: 500, Cohort: " teens "}.Normalize(20, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, f.Limit)
	assert.Equal(t, "teens", f.Cohort)

	_, err = Filter{Limit: -1}.Normalize(20, 50)
	assert.ErrorIs(t, err, shared.ErrInvalidLimit)
}

func TestFilterAccepts(t *testing.T) {
	f := Filter{Cohort: "teens", Predicate: func(s Standing) bool { return s.StoryCount > 0 }}

	assert.True(t, f.Accepts(Standing{Cohort: "teens", StoryCount: 1}))
	assert.False(t, f.Accepts(Standing{Cohort: "adults", StoryCount: 1}))
	assert.False(t, f.Accepts(Standing{Cohort: "teens"}))
	assert.False(t, f.Cacheable())
	assert.True(t, Filter{Cohort: "teens"}.Cacheable())
}

func TestSnapshot(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	snap := NewSnapshot("", 2, []Standing{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}}, at)

	assert.Equal(t, 2, snap.Count())
	assert.Len(t, snap.Top(1), 1)
	assert.Len(t, snap.Top(10), 2)
	assert.True(t, snap.Covers(2))
	assert.False(t, snap.Covers(3))

	short := NewSnapshot("teens", 10, []Standing{{UserID: "a"}}, at)
	assert.True(t, short.Covers(50), "a short page already holds the whole cohort")
	assert.Equal(t, time.Hour, short.Age(at.Add(time.Hour)))
}
