package query

import (
	"context"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER PROGRESSION QUERY
// ══════════════════════════════════════════════════════════════════════════════

// UserProgressionView is the read model of one user's progression.
type UserProgressionView struct {
	UserID            string       `json:"user_id"`
	TotalPoints       int64        `json:"total_points"`
	Level             int          `json:"level"`
	PointsToNextLevel int64        `json:"points_to_next_level"`
	LevelProgress     int          `json:"level_progress"`
	Streak            int          `json:"streak"`
	LongestStreak     int          `json:"longest_streak"`
	LastActiveDate    timeutil.Day `json:"last_active_date"`
	StoryCount        int          `json:"story_count"`
	Cohort            string       `json:"cohort,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// NewUserProgressionView derives the view from a state. Level figures come
// from the level formula, not from the cached column.
func NewUserProgressionView(s progression.State) UserProgressionView {
	return UserProgressionView{
		UserID:            s.UserID,
		TotalPoints:       s.TotalPoints,
		Level:             progression.LevelOf(s.TotalPoints),
		PointsToNextLevel: progression.PointsToNextLevel(s.TotalPoints),
		LevelProgress:     progression.LevelProgress(s.TotalPoints),
		Streak:            s.Streak,
		LongestStreak:     s.LongestStreak,
		LastActiveDate:    s.LastActiveDate,
		StoryCount:        s.StoryCount,
		Cohort:            s.Cohort,
		UpdatedAt:         s.UpdatedAt,
	}
}

// ProgressionReader answers per-user read queries.
type ProgressionReader struct {
	repo    progression.Repository
	unlocks achievement.UnlockRepository
	catalog achievement.Catalog
}

// NewProgressionReader creates a new ProgressionReader.
func NewProgressionReader(repo progression.Repository, unlocks achievement.UnlockRepository, catalog achievement.Catalog) *ProgressionReader {
	return &ProgressionReader{repo: repo, unlocks: unlocks, catalog: catalog}
}

// Get returns the progression view of a user.
func (r *ProgressionReader) Get(ctx context.Context, userID string) (*UserProgressionView, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	state, err := r.repo.Get(ctx, id.String())
	if err != nil {
		return nil, shared.Internal("progression", "Get", err)
	}
	view := NewUserProgressionView(state)
	return &view, nil
}

// History returns the newest audit rows first.
func (r *ProgressionReader) History(ctx context.Context, userID string, limit int) ([]progression.PointTransaction, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, shared.ErrInvalidLimit
	}
	if _, err := r.repo.Get(ctx, id.String()); err != nil {
		return nil, shared.Internal("progression", "History", err)
	}
	txs, err := r.repo.Transactions(ctx, id.String(), limit)
	if err != nil {
		return nil, shared.Internal("progression", "History", err)
	}
	return txs, nil
}

// UnlockedAchievement pairs an unlock with its catalog entry.
type UnlockedAchievement struct {
	achievement.Unlock
	Definition achievement.Definition `json:"definition"`
}

// Unlocks returns a user's unlocks, oldest first. Unlocks of achievements
// since removed from the catalog keep a definition carrying only the id.
func (r *ProgressionReader) Unlocks(ctx context.Context, userID string) ([]UnlockedAchievement, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	unlocks, err := r.unlocks.ListByUser(ctx, id.String())
	if err != nil {
		return nil, shared.Internal("achievement", "ListUnlocks", err)
	}

	out := make([]UnlockedAchievement, 0, len(unlocks))
	for _, u := range unlocks {
		def, err := r.catalog.Get(ctx, u.AchievementID)
		if err != nil {
			if !shared.IsNotFound(err) {
				return nil, shared.Internal("achievement", "ListUnlocks", err)
			}
			def = achievement.Definition{ID: u.AchievementID}
		}
		out = append(out, UnlockedAchievement{Unlock: u, Definition: def})
	}
	return out, nil
}

// Achievements lists active catalog entries, optionally of one category.
func (r *ProgressionReader) Achievements(ctx context.Context, category achievement.Category) ([]achievement.Definition, error) {
	defs, err := r.catalog.ListActive(ctx, category)
	if err != nil {
		return nil, shared.Internal("achievement", "ListActive", err)
	}
	return defs, nil
}
