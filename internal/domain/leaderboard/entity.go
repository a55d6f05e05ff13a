// Package leaderboard contains the ranking model: the standing of a user,
// the single precedence chain that orders standings, and the read-side
// contracts used by the ranker.
package leaderboard

import (
	"fmt"
	"sort"

	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDING
// ══════════════════════════════════════════════════════════════════════════════

// Standing is the read-only projection of a progression record used for
// ranking.
type Standing struct {
	UserID      string `json:"user_id"`
	TotalPoints int64  `json:"total_points"`
	Level       int    `json:"level"`
	StoryCount  int    `json:"story_count"`
	Streak      int    `json:"streak"`
	Cohort      string `json:"cohort,omitempty"`
}

// FromState projects a progression record.
func FromState(s progression.State) Standing {
	return Standing{
		UserID:      s.UserID,
		TotalPoints: s.TotalPoints,
		Level:       s.Level,
		StoryCount:  s.StoryCount,
		Streak:      s.Streak,
		Cohort:      s.Cohort,
	}
}

// Ahead reports whether a ranks strictly above b. Precedence:
// TotalPoints desc, Level desc, StoryCount desc, then UserID asc so that
// the order is total and reproducible. Storage queries mirror this chain.
func Ahead(a, b Standing) bool {
	if a.TotalPoints != b.TotalPoints {
		return a.TotalPoints > b.TotalPoints
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.StoryCount != b.StoryCount {
		return a.StoryCount > b.StoryCount
	}
	return a.UserID < b.UserID
}

// Sort orders standings best first.
func Sort(standings []Standing) {
	sort.Slice(standings, func(i, j int) bool {
		return Ahead(standings[i], standings[j])
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is a standing with its 1-based position.
type Entry struct {
	Rank shared.Rank `json:"rank"`
	Standing
}

// String returns a one-line rendering for logs and the CLI.
func (e Entry) String() string {
	return fmt.Sprintf("#%d %s (%d pts, L%d, %d stories, %d day streak)",
		e.Rank, e.UserID, e.TotalPoints, e.Level, e.StoryCount, e.Streak)
}

// Ranked assigns consecutive ranks to already sorted standings, starting
// at 1. Ties never share a rank since Ahead is a total order.
func Ranked(sorted []Standing) []Entry {
	entries := make([]Entry, len(sorted))
	for i, s := range sorted {
		entries[i] = Entry{Rank: shared.Rank(i + 1), Standing: s}
	}
	return entries
}

// Find returns the entry of userID, if present.
func Find(entries []Entry, userID string) (Entry, bool) {
	for _, e := range entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return Entry{}, false
}
