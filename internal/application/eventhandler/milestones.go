// Package eventhandler contains subscribers that react to committed
// progression events. They run after the engine call that produced the event
// has returned, so a failure here never affects that call.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storyquest/progression-engine/internal/application/command"
	"github.com/storyquest/progression-engine/internal/application/query"
	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// MILESTONE HANDLER
// Unlocks catalog achievements whose criteria a user now satisfies.
// Unlocking is idempotent, so the same event seen by several processes, or
// replayed, credits each reward at most once.
// ═══════════════════════════════════════════════════════════════════════════

// Engine is the part of the progression facade the handler uses.
// Implemented by engine.Manager.
type Engine interface {
	GetUserProgression(ctx context.Context, userID string) (*query.UserProgressionView, error)
	ListAchievements(ctx context.Context, category string) ([]achievement.Definition, error)
	ListUnlocks(ctx context.Context, userID string) ([]query.UnlockedAchievement, error)
	UnlockAchievement(ctx context.Context, userID, achievementID string, unlockContext any) (*command.UnlockAchievementResult, error)
}

// MilestoneConfig configures the handler.
type MilestoneConfig struct {
	// Timeout bounds the handling of one event.
	Timeout time.Duration
}

// DefaultMilestoneConfig returns default configuration.
func DefaultMilestoneConfig() MilestoneConfig {
	return MilestoneConfig{Timeout: 10 * time.Second}
}

// MilestoneHandler evaluates achievement criteria after progress changes.
type MilestoneHandler struct {
	engine Engine
	logger *logger.Logger
	config MilestoneConfig
}

// NewMilestoneHandler creates the handler.
func NewMilestoneHandler(engine Engine, log *logger.Logger, config MilestoneConfig) *MilestoneHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultMilestoneConfig().Timeout
	}
	return &MilestoneHandler{
		engine: engine,
		logger: log.With(logger.Component("milestones")),
		config: config,
	}
}

// Triggers are the event types after which criteria can newly hold.
func (h *MilestoneHandler) Triggers() []shared.EventType {
	return []shared.EventType{
		shared.EventPointsAwarded,
		shared.EventStreakUpdated,
		shared.EventStoryRecorded,
	}
}

// Register subscribes the handler to its triggers.
func (h *MilestoneHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range h.Triggers() {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *MilestoneHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	_, err := h.Evaluate(ctx, event.AggregateID(), string(event.EventType()))
	return err
}

// Evaluate unlocks every active achievement the user qualifies for and has
// not unlocked yet. Returns the ids unlocked by this call.
func (h *MilestoneHandler) Evaluate(ctx context.Context, userID, trigger string) ([]string, error) {
	view, err := h.engine.GetUserProgression(ctx, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load progression: %w", err)
	}

	defs, err := h.engine.ListAchievements(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	unlocks, err := h.engine.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	have := make(map[string]bool, len(unlocks))
	for _, u := range unlocks {
		have[u.AchievementID] = true
	}

	progress := achievement.Progress{
		TotalPoints:   view.TotalPoints,
		Level:         view.Level,
		LongestStreak: view.LongestStreak,
		StoryCount:    view.StoryCount,
	}

	var (
		unlocked []string
		errs     []error
	)
	for _, def := range defs {
		if have[def.ID] || !def.MetBy(progress) {
			continue
		}
		res, err := h.engine.UnlockAchievement(ctx, userID, def.ID, map[string]string{
			"source":  "milestone",
			"trigger": trigger,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("unlock %s: %w", def.ID, err))
			continue
		}
		if res.Success {
			unlocked = append(unlocked, def.ID)
			h.logger.Info("milestone unlocked",
				logger.UserID(userID),
				logger.AchievementID(def.ID),
				logger.Points(res.PointsAwarded),
				logger.String("trigger", trigger),
			)
		}
	}

	if err := errors.Join(errs...); err != nil {
		h.logger.Error("milestone evaluation failed", logger.UserID(userID), logger.Err(err))
		return unlocked, err
	}
	return unlocked, nil
}
