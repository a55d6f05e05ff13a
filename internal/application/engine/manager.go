// Package engine exposes the progression engine to the rest of the system.
// Manager is the only entry point other subsystems call: it validates,
// delegates each operation to exactly one command or query, and shapes the
// result. It holds no progression state of its own.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/storyquest/progression-engine/internal/application/command"
	"github.com/storyquest/progression-engine/internal/application/query"
	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// Config configures the engine.
type Config struct {
	Streak      command.StreakTrackerConfig
	Leaderboard query.LeaderboardRankerConfig
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Streak:      command.DefaultStreakTrackerConfig(),
		Leaderboard: query.DefaultLeaderboardRankerConfig(),
	}
}

// Dependencies are the storage collaborators of the engine.
type Dependencies struct {
	Progression progression.Repository
	Unlocks     achievement.UnlockRepository
	Catalog     achievement.Catalog
	Standings   leaderboard.Source

	// Cache is optional.
	Cache leaderboard.Cache

	// Publisher is optional; events are delivered after commit.
	Publisher shared.EventPublisher

	Logger *logger.Logger
	Clock  func() time.Time
	NewID  func() string
}

// Manager is the progression engine facade.
type Manager struct {
	repo      progression.Repository
	ledger    *command.PointsLedger
	streaks   *command.StreakTracker
	unlocker  *command.AchievementUnlocker
	ranker    *query.LeaderboardRanker
	reader    *query.ProgressionReader
	publisher shared.EventPublisher
	clock     func() time.Time
	log       *logger.Logger
}

// New wires a Manager.
func New(deps Dependencies, config Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	opts := command.Options{Clock: deps.Clock, NewID: deps.NewID, Logger: deps.Logger}

	ranker := query.NewLeaderboardRanker(deps.Standings, deps.Cache, config.Leaderboard, deps.Logger)
	ranker.SetClock(deps.Clock)

	return &Manager{
		repo:      deps.Progression,
		ledger:    command.NewPointsLedger(deps.Progression, opts),
		streaks:   command.NewStreakTracker(deps.Progression, config.Streak, opts),
		unlocker:  command.NewAchievementUnlocker(deps.Catalog, deps.Unlocks, opts),
		ranker:    ranker,
		reader:    query.NewProgressionReader(deps.Progression, deps.Unlocks, deps.Catalog),
		publisher: deps.Publisher,
		clock:     deps.Clock,
		log:       deps.Logger.With(logger.Component("progression_manager")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// ══════════════════════════════════════════════════════════════════════════════

// EnsureUser creates the user's progression record if absent. It is called
// when the account is created and is safe to repeat.
func (m *Manager) EnsureUser(ctx context.Context, userID string) (*query.UserProgressionView, bool, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, false, err
	}
	now := m.clock()
	state, created, err := m.repo.Ensure(ctx, id.String(), now)
	if err != nil {
		return nil, false, shared.Internal("progression", "Ensure", err)
	}
	if created {
		m.log.Info("progression record created", logger.UserID(id.String()))
		m.afterCommit(ctx, state.Cohort, []shared.Event{shared.NewUserEnsuredEvent(id.String(), now)})
	}
	view := query.NewUserProgressionView(state)
	return &view, created, nil
}

// AwardPoints credits (or, for administrative corrections, debits) points.
// A zero amount is a validation error. A debit that would go below zero is
// clamped; the result's Warning reports it and the call still succeeds.
func (m *Manager) AwardPoints(ctx context.Context, userID string, amount int64, reason string) (*command.AwardPointsResult, error) {
	res, err := m.ledger.Award(ctx, command.AwardPointsCommand{
		UserID:        userID,
		Amount:        amount,
		Reason:        reason,
		CorrelationID: correlationID(ctx),
	})
	if err != nil {
		return nil, err
	}
	m.afterCommit(ctx, res.State.Cohort, res.Events)
	return res, nil
}

// UnlockAchievement unlocks an achievement once. Duplicates report
// AlreadyUnlocked without error and without a second credit.
func (m *Manager) UnlockAchievement(ctx context.Context, userID, achievementID string, unlockContext any) (*command.UnlockAchievementResult, error) {
	res, err := m.unlocker.Unlock(ctx, command.UnlockAchievementCommand{
		UserID:        userID,
		AchievementID: achievementID,
		Context:       unlockContext,
		CorrelationID: correlationID(ctx),
	})
	if err != nil {
		return nil, err
	}
	if res.Success {
		m.afterCommit(ctx, res.State.Cohort, res.Events)
	}
	return res, nil
}

// UpdateWritingStreak records writing activity. A nil today means the
// current day under the configured time zone policy.
func (m *Manager) UpdateWritingStreak(ctx context.Context, userID string, today *time.Time) (*command.TouchStreakResult, error) {
	cmd := command.TouchStreakCommand{UserID: userID, CorrelationID: correlationID(ctx)}
	if today != nil {
		cmd.Today = m.streaks.DayOf(*today)
	}
	res, err := m.streaks.Touch(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.Changed {
		m.afterCommit(ctx, res.State.Cohort, res.Events)
	}
	return res, nil
}

// RecordStory increments the story counter used as a tie-break signal.
func (m *Manager) RecordStory(ctx context.Context, userID string) (*query.UserProgressionView, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	now := m.clock()
	state, err := m.repo.Mutate(ctx, id.String(), func(s *progression.State) ([]progression.PointTransaction, error) {
		s.StoryCount++
		s.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return nil, shared.Internal("progression", "RecordStory", err)
	}
	event := shared.NewStoryRecordedEvent(state.UserID, state.StoryCount, now)
	event.BaseEvent = event.WithCorrelationID(correlationID(ctx))
	m.afterCommit(ctx, state.Cohort, []shared.Event{event})
	view := query.NewUserProgressionView(state)
	return &view, nil
}

// AssignCohort sets the external cohort label used by leaderboard filters.
func (m *Manager) AssignCohort(ctx context.Context, userID, cohort string) (*query.UserProgressionView, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	next := shared.NewCohort(cohort).String()
	now := m.clock()

	var previous string
	state, err := m.repo.Mutate(ctx, id.String(), func(s *progression.State) ([]progression.PointTransaction, error) {
		previous = s.Cohort
		s.Cohort = next
		s.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return nil, shared.Internal("progression", "AssignCohort", err)
	}
	if previous != next {
		m.ranker.Invalidate(ctx, previous, next)
		m.log.Info("cohort assigned", logger.UserID(id.String()), logger.Cohort(next))
	}
	view := query.NewUserProgressionView(state)
	return &view, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRequest selects a leaderboard page.
type LeaderboardRequest struct {
	// Cohort restricts candidates to one cohort; empty means everyone.
	Cohort string

	// Predicate further restricts candidates; nil accepts everyone.
	Predicate leaderboard.Predicate

	// Limit is the page size; zero means the configured default.
	Limit int
}

// LeaderboardResult is a page plus the requester's own position.
type LeaderboardResult struct {
	Entries []leaderboard.Entry `json:"entries"`

	// RequesterRank is Unranked (0) when there is no requester or the
	// requester is outside the filter.
	RequesterRank shared.Rank `json:"requester_rank"`
}

// GetLeaderboard returns the top page and, when requesterID is set, the
// requester's position under the same filter even if off the page.
func (m *Manager) GetLeaderboard(ctx context.Context, requesterID string, req LeaderboardRequest) (*LeaderboardResult, error) {
	filter := leaderboard.Filter{Cohort: req.Cohort, Predicate: req.Predicate, Limit: req.Limit}

	entries, err := m.ranker.Rank(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := &LeaderboardResult{Entries: entries, RequesterRank: shared.Unranked}

	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return result, nil
	}
	if e, ok := leaderboard.Find(entries, requesterID); ok {
		result.RequesterRank = e.Rank
		return result, nil
	}

	rank, err := m.ranker.PositionOf(ctx, requesterID, filter)
	switch {
	case err == nil:
		result.RequesterRank = rank
	case shared.IsNotFound(err):
		// Not ranked under this filter, or no progression record yet.
	default:
		return nil, err
	}
	return result, nil
}

// GetUserProgression returns a user's totals, level and streak.
func (m *Manager) GetUserProgression(ctx context.Context, userID string) (*query.UserProgressionView, error) {
	return m.reader.Get(ctx, userID)
}

// PointHistory returns the newest audit rows first.
func (m *Manager) PointHistory(ctx context.Context, userID string, limit int) ([]progression.PointTransaction, error) {
	return m.reader.History(ctx, userID, limit)
}

// ListAchievements lists active achievements, optionally of one category.
func (m *Manager) ListAchievements(ctx context.Context, category string) ([]achievement.Definition, error) {
	return m.reader.Achievements(ctx, achievement.Category(strings.TrimSpace(category)))
}

// ListUnlocks returns a user's unlocked achievements, oldest first.
func (m *Manager) ListUnlocks(ctx context.Context, userID string) ([]query.UnlockedAchievement, error) {
	return m.reader.Unlocks(ctx, userID)
}

// RefreshLeaderboard recomputes and caches a cohort's top page. It is a pure
// optimization used by the worker.
func (m *Manager) RefreshLeaderboard(ctx context.Context, cohort string, limit int) (*leaderboard.Snapshot, error) {
	snap, err := m.ranker.Refresh(ctx, cohort, limit)
	if err != nil {
		return nil, err
	}
	m.publish(shared.NewLeaderboardRefreshedEvent(snap.Cohort, snap.Count(), m.clock()))
	return snap, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SIDE EFFECTS
// ══════════════════════════════════════════════════════════════════════════════

// afterCommit runs best-effort side effects of a committed mutation. Nothing
// here can undo or fail the mutation.
func (m *Manager) afterCommit(ctx context.Context, cohort string, events []shared.Event) {
	m.ranker.Invalidate(ctx, cohort)
	for _, e := range events {
		m.publish(e)
	}
}

func (m *Manager) publish(e shared.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(e); err != nil {
		m.log.Warn("event publish failed",
			logger.String("event_type", string(e.EventType())),
			logger.String("aggregate_id", e.AggregateID()),
			logger.Err(err),
		)
	}
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id that is copied onto every
// event produced while serving the request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
