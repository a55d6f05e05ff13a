package command

import (
	"context"
	"strconv"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/logger"
	"github.com/storyquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOUCH STREAK COMMAND
// Records a streak-qualifying activity for a calendar day.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultStreakBonus is credited on every streak increment.
const DefaultStreakBonus int64 = 10

// TouchStreakCommand contains the data to touch a streak.
type TouchStreakCommand struct {
	UserID string

	// Today is the activity day. Zero means the tracker's current day.
	Today timeutil.Day

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c *TouchStreakCommand) Validate() error {
	id, err := shared.NewUserID(c.UserID)
	if err != nil {
		return err
	}
	c.UserID = id.String()
	return nil
}

// TouchStreakResult contains the result of a touch.
type TouchStreakResult struct {
	UserID string
	Today  timeutil.Day

	Streak         int
	PreviousStreak int
	LongestStreak  int

	// StreakBroken is set when a gap reset a running streak.
	StreakBroken bool

	// DaysSinceLastActive is the gap in calendar days (1 on first activity).
	DaysSinceLastActive int

	// PointsAwarded is the bonus credited for an increment.
	PointsAwarded int64

	NewTotal int64
	NewLevel int
	LevelUp  bool

	// Transaction is set when a bonus was credited.
	Transaction *progression.PointTransaction

	// Changed is false for same-day and stale touches.
	Changed bool

	// State is the committed progression record.
	State progression.State

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// StreakTrackerConfig configures the tracker.
type StreakTrackerConfig struct {
	// Bonus is credited on each increment; zero disables the bonus.
	Bonus int64

	// Location defines calendar days; nil means UTC.
	Location *time.Location
}

// DefaultStreakTrackerConfig returns default configuration.
func DefaultStreakTrackerConfig() StreakTrackerConfig {
	return StreakTrackerConfig{
		Bonus:    DefaultStreakBonus,
		Location: time.UTC,
	}
}

// StreakTracker runs the per-user streak state machine.
type StreakTracker struct {
	repo   progression.Repository
	config StreakTrackerConfig
	clock  func() time.Time
	newID  func() string
	log    *logger.Logger
}

// NewStreakTracker creates a new StreakTracker.
func NewStreakTracker(repo progression.Repository, config StreakTrackerConfig, opts Options) *StreakTracker {
	opts = opts.withDefaults()
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Bonus < 0 {
		config.Bonus = 0
	}
	return &StreakTracker{
		repo:   repo,
		config: config,
		clock:  opts.Clock,
		newID:  opts.NewID,
		log:    opts.Logger.With(logger.Component("streak_tracker")),
	}
}

// Today returns the tracker's current calendar day.
func (t *StreakTracker) Today() timeutil.Day {
	return t.DayOf(t.clock())
}

// DayOf returns the calendar day of an instant under the tracker's policy.
func (t *StreakTracker) DayOf(at time.Time) timeutil.Day {
	return timeutil.DayIn(at, t.config.Location)
}

// Touch performs the read-compare-write of (streak, lastActiveDate) and the
// optional bonus credit as one atomic unit.
func (t *StreakTracker) Touch(ctx context.Context, cmd TouchStreakCommand) (*TouchStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := t.clock()
	today := cmd.Today
	if today.IsZero() {
		today = t.DayOf(now)
	}
	txID := t.newID()

	var (
		transition progression.StreakTransition
		award      progression.Award
		tx         *progression.PointTransaction
	)
	state, err := t.repo.Mutate(ctx, cmd.UserID, func(s *progression.State) ([]progression.PointTransaction, error) {
		transition = progression.TouchStreak(s, today)
		award = progression.Award{}
		tx = nil
		if !transition.Changed() {
			return nil, nil
		}
		s.UpdatedAt = now
		if !transition.Incremented() || t.config.Bonus == 0 {
			return nil, nil
		}
		var row progression.PointTransaction
		award, row = credit(s, t.config.Bonus, "streak:"+strconv.Itoa(transition.Streak), txID, now)
		tx = &row
		return []progression.PointTransaction{row}, nil
	})
	if err != nil {
		return nil, shared.Internal("progression", "TouchStreak", err)
	}

	result := &TouchStreakResult{
		UserID:              cmd.UserID,
		Today:               today,
		Streak:              transition.Streak,
		PreviousStreak:      transition.PreviousStreak,
		LongestStreak:       transition.LongestStreak,
		StreakBroken:        transition.Broken(),
		DaysSinceLastActive: transition.DaysSinceLastActive,
		NewTotal:            state.TotalPoints,
		NewLevel:            state.Level,
		Transaction:         tx,
		Changed:             transition.Changed(),
		State:               state,
	}
	if tx != nil {
		result.PointsAwarded = award.Applied
		result.LevelUp = award.LevelUp()
	}
	result.Events = t.events(cmd, today, transition, award, tx, now)

	if transition.Changed() {
		t.log.Info("streak touched",
			logger.UserID(cmd.UserID),
			logger.Streak(transition.Streak),
			logger.Bool("broken", transition.Broken()),
			logger.Points(result.PointsAwarded),
		)
	} else {
		t.log.Debug("streak unchanged", logger.UserID(cmd.UserID), logger.String("day", today.String()))
	}

	return result, nil
}

func (t *StreakTracker) events(cmd TouchStreakCommand, today timeutil.Day, tr progression.StreakTransition, award progression.Award, tx *progression.PointTransaction, at time.Time) []shared.Event {
	if !tr.Changed() {
		return nil
	}

	var events []shared.Event
	if tr.Broken() {
		broken := shared.NewStreakBrokenEvent(cmd.UserID, tr.PreviousStreak, tr.DaysSinceLastActive-1, at)
		broken.BaseEvent = broken.WithCorrelationID(cmd.CorrelationID)
		events = append(events, broken)
	}

	updated := shared.NewStreakUpdatedEvent(cmd.UserID, tr.Streak, tr.LongestStreak, today.String(), at)
	updated.BaseEvent = updated.WithCorrelationID(cmd.CorrelationID)
	events = append(events, updated)

	if tx != nil {
		events = append(events, awardEvents(cmd.UserID, award, *tx, cmd.CorrelationID, at)...)
	}
	return events
}
