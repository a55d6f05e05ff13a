// Package achievement defines the achievement catalog and the one-time
// unlock records that credit an achievement's reward to a user.
package achievement

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

// Category groups achievements for listing.
type Category string

const (
	CategoryWriting   Category = "writing"
	CategoryStreak    Category = "streak"
	CategoryMilestone Category = "milestone"
	CategoryCommunity Category = "community"
)

// Definition is an immutable catalog row.
type Definition struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description"`
	Category     Category       `json:"category" yaml:"category"`
	PointsReward int64          `json:"points_reward" yaml:"points_reward"`
	SortOrder    int            `json:"sort_order" yaml:"sort_order"`
	IsActive     bool           `json:"is_active" yaml:"is_active"`
	Criteria     map[string]any `json:"criteria,omitempty" yaml:"criteria"`
}

// Validate checks the catalog invariants of a single definition.
func (d Definition) Validate() error {
	id, err := shared.NewAchievementID(d.ID)
	if err != nil {
		return err
	}
	if string(id) != d.ID {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValidation, "achievement id must be a lowercase slug: "+d.ID)
	}
	if d.Name == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValidation, "achievement name is required: "+d.ID)
	}
	if d.PointsReward < 0 {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValidation, "points reward must not be negative: "+d.ID)
	}
	return nil
}

// ReasonFor returns the ledger reason used when crediting the reward.
func ReasonFor(achievementID string) string {
	return "achievement:" + achievementID
}

// Sort orders definitions by SortOrder, then ID.
func Sort(defs []Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].SortOrder != defs[j].SortOrder {
			return defs[i].SortOrder < defs[j].SortOrder
		}
		return defs[i].ID < defs[j].ID
	})
}

// FilterActive returns the active definitions, optionally of one category.
// An empty category selects all categories. The result is sorted.
func FilterActive(defs []Definition, category Category) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if !d.IsActive {
			continue
		}
		if category != "" && d.Category != category {
			continue
		}
		out = append(out, d)
	}
	Sort(out)
	return out
}

// DefaultDefinitions returns the built-in catalog used when no catalog file
// is configured.
func DefaultDefinitions() []Definition {
	return []Definition{
		{ID: "first_story", Name: "First Draft", Description: "Published the first story", Category: CategoryWriting, PointsReward: 50, SortOrder: 10, IsActive: true},
		{ID: "stories_10", Name: "Storyteller", Description: "Published 10 stories", Category: CategoryWriting, PointsReward: 200, SortOrder: 20, IsActive: true, Criteria: map[string]any{"stories": 10}},
		{ID: "stories_50", Name: "Novelist", Description: "Published 50 stories", Category: CategoryWriting, PointsReward: 750, SortOrder: 30, IsActive: true, Criteria: map[string]any{"stories": 50}},
		{ID: "streak_7", Name: "Week of Ink", Description: "Wrote 7 days in a row", Category: CategoryStreak, PointsReward: 100, SortOrder: 40, IsActive: true, Criteria: map[string]any{"streak": 7}},
		{ID: "streak_30", Name: "Iron Quill", Description: "Wrote 30 days in a row", Category: CategoryStreak, PointsReward: 500, SortOrder: 50, IsActive: true, Criteria: map[string]any{"streak": 30}},
		{ID: "level_5", Name: "Apprentice", Description: "Reached level 5", Category: CategoryMilestone, PointsReward: 100, SortOrder: 60, IsActive: true, Criteria: map[string]any{"level": 5}},
		{ID: "level_10", Name: "Master Scribe", Description: "Reached level 10", Category: CategoryMilestone, PointsReward: 250, SortOrder: 70, IsActive: true, Criteria: map[string]any{"level": 10}},
		{ID: "first_comment", Name: "Kind Reader", Description: "Left the first comment", Category: CategoryCommunity, PointsReward: 0, SortOrder: 80, IsActive: true},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// Unlock is an append-only record. At most one exists per (UserID, AchievementID).
type Unlock struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	AchievementID string          `json:"achievement_id"`
	UnlockedAt    time.Time       `json:"unlocked_at"`
	Context       json.RawMessage `json:"context,omitempty"`
}

// EncodeContext serializes an opaque caller context. Nil yields no context.
func EncodeContext(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, shared.ErrInvalidContext
		}
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, shared.WrapError("achievement", "Unlock", shared.ErrValidation, "unlock context is not serializable", err)
	}
	return data, nil
}
