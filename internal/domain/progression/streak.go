package progression

import (
	"github.com/storyquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// StreakOutcome names the branch a touch took.
type StreakOutcome string

const (
	// StreakUnchanged: same day, or a day before the last recorded one.
	StreakUnchanged StreakOutcome = "unchanged"

	// StreakIncremented: the next calendar day (or the first ever touch).
	StreakIncremented StreakOutcome = "incremented"

	// StreakReset: at least one day was missed.
	StreakReset StreakOutcome = "reset"
)

// StreakTransition describes the effect of one touch.
type StreakTransition struct {
	Outcome        StreakOutcome
	PreviousStreak int
	Streak         int
	LongestStreak  int

	// DaysSinceLastActive is the gap used for the decision, never negative.
	// The first ever touch reports 1.
	DaysSinceLastActive int

	// FirstActivity is set when the user had no recorded active day.
	FirstActivity bool
}

// Broken reports whether the touch reset a running streak.
func (t StreakTransition) Broken() bool {
	return t.Outcome == StreakReset
}

// Incremented reports whether the touch extended the streak.
func (t StreakTransition) Incremented() bool {
	return t.Outcome == StreakIncremented
}

// Changed reports whether the state was modified.
func (t StreakTransition) Changed() bool {
	return t.Outcome != StreakUnchanged
}

// TouchStreak advances the streak for activity on today. The caller must
// hold the record exclusively.
//
//	gap <= 0  no-op
//	gap == 1  streak + 1 (the first ever touch counts as gap 1)
//	gap > 1   streak = 1, broken
func TouchStreak(s *State, today timeutil.Day) StreakTransition {
	t := StreakTransition{PreviousStreak: s.Streak}

	gap := 1
	if s.LastActiveDate.IsZero() {
		t.FirstActivity = true
	} else {
		gap = timeutil.DaysBetween(s.LastActiveDate, today)
	}

	switch {
	case gap <= 0:
		t.Outcome = StreakUnchanged
		gap = 0
	case gap == 1:
		t.Outcome = StreakIncremented
		s.Streak++
	default:
		t.Outcome = StreakReset
		s.Streak = 1
	}

	if t.Outcome != StreakUnchanged {
		s.LastActiveDate = today
		if s.Streak > s.LongestStreak {
			s.LongestStreak = s.Streak
		}
	}

	t.Streak = s.Streak
	t.LongestStreak = s.LongestStreak
	t.DaysSinceLastActive = gap
	return t
}
