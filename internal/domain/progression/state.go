package progression

import (
	"time"

	"github.com/storyquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESSION STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the per-user progression record. It is owned by the engine:
// TotalPoints, Streak and LastActiveDate change only through ApplyPoints
// and TouchStreak executed inside a store's atomic section.
type State struct {
	// UserID is the stable, unique user identifier.
	UserID string

	// TotalPoints is never negative.
	TotalPoints int64

	// Level is a cached LevelOf(TotalPoints), refreshed on every point mutation.
	Level int

	// Streak is the number of consecutive active days.
	Streak int

	// LongestStreak is the best streak ever reached.
	LongestStreak int

	// LastActiveDate is the last streak-qualifying day, zero if never active.
	LastActiveDate timeutil.Day

	// StoryCount is a tie-break signal maintained by story creation.
	StoryCount int

	// Cohort is an opaque external grouping used by leaderboard filters.
	Cohort string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewState returns the zeroed state of a freshly created account.
func NewState(userID string, now time.Time) State {
	return State{
		UserID:    userID,
		Level:     MinLevel,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PointsToNextLevel is a convenience over the package-level formula.
func (s State) PointsToNextLevel() int64 {
	return PointsToNextLevel(s.TotalPoints)
}

// RefreshLevel recomputes the cached level from the point total.
func (s *State) RefreshLevel() {
	s.Level = LevelOf(s.TotalPoints)
}

// Validate checks the invariants every stored state must satisfy.
func (s State) Validate() error {
	switch {
	case s.UserID == "":
		return errInvalidState("user id is empty")
	case s.TotalPoints < 0:
		return errInvalidState("total points are negative")
	case s.Level != LevelOf(s.TotalPoints):
		return errInvalidState("cached level is stale")
	case s.Streak < 0:
		return errInvalidState("streak is negative")
	case s.StoryCount < 0:
		return errInvalidState("story count is negative")
	}
	return nil
}
