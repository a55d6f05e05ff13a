package achievement

import "math"

// Criteria keys understood by automatic milestone unlocks. A definition
// whose criteria are empty, or name any other key, is unlocked only by
// explicit calls.
const (
	CriterionPoints  = "points"
	CriterionLevel   = "level"
	CriterionStreak  = "streak"
	CriterionStories = "stories"
)

// Progress is the part of a user's progression that criteria inspect.
type Progress struct {
	TotalPoints   int64
	Level         int
	LongestStreak int
	StoryCount    int
}

// MetBy reports whether every criterion of d is satisfied by p.
// Streak criteria compare against the longest streak, so a milestone stays
// reachable after the running streak breaks.
func (d Definition) MetBy(p Progress) bool {
	if len(d.Criteria) == 0 {
		return false
	}
	for key, raw := range d.Criteria {
		want, ok := threshold(raw)
		if !ok {
			return false
		}
		var have int64
		switch key {
		case CriterionPoints:
			have = p.TotalPoints
		case CriterionLevel:
			have = int64(p.Level)
		case CriterionStreak:
			have = int64(p.LongestStreak)
		case CriterionStories:
			have = int64(p.StoryCount)
		default:
			return false
		}
		if have < want {
			return false
		}
	}
	return true
}

// threshold converts a decoded criteria value to an integer. YAML yields
// int, JSON yields float64.
func threshold(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
