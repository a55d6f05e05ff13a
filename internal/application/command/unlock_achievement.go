package command

import (
	"context"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK ACHIEVEMENT COMMAND
// Idempotent "unlock once": the storage-level unique insert is the gate and
// the reward is credited only by the request that won the insert.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockAchievementCommand contains the data to unlock an achievement.
type UnlockAchievementCommand struct {
	UserID        string
	AchievementID string

	// Context is opaque caller data stored with the unlock (JSON-encodable).
	Context any

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c *UnlockAchievementCommand) Validate() error {
	id, err := shared.NewUserID(c.UserID)
	if err != nil {
		return err
	}
	c.UserID = id.String()

	aid, err := shared.NewAchievementID(c.AchievementID)
	if err != nil {
		return err
	}
	c.AchievementID = aid.String()
	return nil
}

// UnlockAchievementResult contains the result of an unlock.
type UnlockAchievementResult struct {
	// Success is true only for the request that recorded the unlock.
	Success bool

	// AlreadyUnlocked is true when a previous unlock exists. It is an
	// expected outcome, not an error.
	AlreadyUnlocked bool

	Achievement achievement.Definition

	// Unlock is the recorded row; zero when AlreadyUnlocked.
	Unlock achievement.Unlock

	PointsAwarded int64
	NewTotal      int64
	NewLevel      int
	LevelUp       bool

	// State is the user's progression record after the call.
	State progression.State

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AchievementUnlocker records unlocks and credits rewards.
type AchievementUnlocker struct {
	catalog achievement.Catalog
	unlocks achievement.UnlockRepository
	clock   func() time.Time
	newID   func() string
	log     *logger.Logger
}

// NewAchievementUnlocker creates a new AchievementUnlocker.
func NewAchievementUnlocker(catalog achievement.Catalog, unlocks achievement.UnlockRepository, opts Options) *AchievementUnlocker {
	opts = opts.withDefaults()
	return &AchievementUnlocker{
		catalog: catalog,
		unlocks: unlocks,
		clock:   opts.Clock,
		newID:   opts.NewID,
		log:     opts.Logger.With(logger.Component("achievement_unlocker")),
	}
}

// Unlock inserts the unlock row and, only if the insert was new, credits
// the reward in the same atomic unit.
func (u *AchievementUnlocker) Unlock(ctx context.Context, cmd UnlockAchievementCommand) (*UnlockAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	def, err := u.catalog.Get(ctx, cmd.AchievementID)
	if err != nil {
		return nil, shared.Internal("achievement", "Unlock", err)
	}
	if !def.IsActive {
		return nil, shared.ErrAchievementNotFound
	}

	payload, err := achievement.EncodeContext(cmd.Context)
	if err != nil {
		return nil, err
	}

	now := u.clock()
	unlock := achievement.Unlock{
		ID:            u.newID(),
		UserID:        cmd.UserID,
		AchievementID: def.ID,
		UnlockedAt:    now,
		Context:       payload,
	}
	txID := u.newID()

	var (
		award progression.Award
		tx    *progression.PointTransaction
	)
	state, inserted, err := u.unlocks.Insert(ctx, unlock, func(s *progression.State) ([]progression.PointTransaction, error) {
		award = progression.Award{}
		tx = nil
		if def.PointsReward == 0 {
			return nil, nil
		}
		var row progression.PointTransaction
		award, row = credit(s, def.PointsReward, achievement.ReasonFor(def.ID), txID, now)
		tx = &row
		return []progression.PointTransaction{row}, nil
	})
	if err != nil {
		return nil, shared.Internal("achievement", "Unlock", err)
	}

	result := &UnlockAchievementResult{
		Achievement: def,
		NewTotal:    state.TotalPoints,
		NewLevel:    state.Level,
		State:       state,
	}

	if !inserted {
		result.AlreadyUnlocked = true
		u.log.Debug("achievement already unlocked",
			logger.UserID(cmd.UserID),
			logger.AchievementID(def.ID),
		)
		return result, nil
	}

	result.Success = true
	result.Unlock = unlock

	unlocked := shared.NewAchievementUnlockedEvent(cmd.UserID, def.ID, def.Name, def.PointsReward, now)
	unlocked.BaseEvent = unlocked.WithCorrelationID(cmd.CorrelationID)
	result.Events = []shared.Event{unlocked}

	if tx != nil {
		result.PointsAwarded = award.Applied
		result.LevelUp = award.LevelUp()
		result.Events = append(result.Events, awardEvents(cmd.UserID, award, *tx, cmd.CorrelationID, now)...)
	}

	u.log.Info("achievement unlocked",
		logger.UserID(cmd.UserID),
		logger.AchievementID(def.ID),
		logger.Points(result.PointsAwarded),
		logger.LevelField(state.Level),
	)

	return result, nil
}
