package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetBy(t *testing.T) {
	p := Progress{TotalPoints: 1500, Level: 2, LongestStreak: 7, StoryCount: 3}

	cases := []struct {
		name     string
		criteria map[string]any
		met      bool
	}{
		{"no criteria is manual only", nil, false},
		{"streak reached", map[string]any{"streak": 7}, true},
		{"streak from json", map[string]any{"streak": float64(7)}, true},
		{"level not reached", map[string]any{"level": 5}, false},
		{"all of several", map[string]any{"points": 1000, "stories": 3}, true},
		{"one of several missing", map[string]any{"points": 1000, "stories": 4}, false},
		{"unknown key", map[string]any{"comments": 1}, false},
		{"non numeric", map[string]any{"level": "two"}, false},
		{"fractional", map[string]any{"level": 1.5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Definition{ID: "x", Name: "X", Criteria: tc.criteria}
			assert.Equal(t, tc.met, d.MetBy(p))
		})
	}
}
