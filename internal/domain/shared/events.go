package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Operations return these in their results and the
// facade forwards them to an optional EventPublisher after commit, so
// notification delivery can live outside the engine.
const (
	// Progression events
	EventUserEnsured   EventType = "progression.user_ensured"
	EventPointsAwarded EventType = "progression.points_awarded"
	EventPointsClamped EventType = "progression.points_clamped"
	EventLevelUp       EventType = "progression.level_up"
	EventStoryRecorded EventType = "progression.story_recorded"

	// Streak events
	EventStreakUpdated EventType = "streak.updated"
	EventStreakBroken  EventType = "streak.broken"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Leaderboard events
	EventLeaderboardRefreshed EventType = "leaderboard.refreshed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given instant.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// UserEnsuredEvent is emitted when a progression record is created.
type UserEnsuredEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
}

// Payload implements Event interface.
func (e UserEnsuredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
	}
}

// NewUserEnsuredEvent creates a new UserEnsuredEvent.
func NewUserEnsuredEvent(userID string, at time.Time) UserEnsuredEvent {
	return UserEnsuredEvent{
		BaseEvent: NewBaseEvent(EventUserEnsured, userID, at),
		UserID:    userID,
	}
}

// PointsAwardedEvent is emitted for every applied ledger transaction.
type PointsAwardedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	NewTotal      int64  `json:"new_total"`
	Reason        string `json:"reason"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"transaction_id": e.TransactionID,
		"amount":         e.Amount,
		"new_total":      e.NewTotal,
		"reason":         e.Reason,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(userID, txID string, amount, newTotal int64, reason string, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent:     NewBaseEvent(EventPointsAwarded, userID, at),
		UserID:        userID,
		TransactionID: txID,
		Amount:        amount,
		NewTotal:      newTotal,
		Reason:        reason,
	}
}

// PointsClampedEvent is emitted when a deduction would have taken the total
// below zero.
type PointsClampedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	Requested int64  `json:"requested"`
	Applied   int64  `json:"applied"`
}

// Payload implements Event interface.
func (e PointsClampedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"requested": e.Requested,
		"applied":   e.Applied,
	}
}

// NewPointsClampedEvent creates a new PointsClampedEvent.
func NewPointsClampedEvent(userID string, requested, applied int64, at time.Time) PointsClampedEvent {
	return PointsClampedEvent{
		BaseEvent: NewBaseEvent(EventPointsClamped, userID, at),
		UserID:    userID,
		Requested: requested,
		Applied:   applied,
	}
}

// LevelUpEvent is emitted when a user reaches a higher level.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	Total    int64  `json:"total"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total":     e.Total,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, total int64, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		Total:     total,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted when the streak is extended or restarted.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	Streak        int    `json:"streak"`
	LongestStreak int    `json:"longest_streak"`
	Day           string `json:"day"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"streak":         e.Streak,
		"longest_streak": e.LongestStreak,
		"day":            e.Day,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, streak, longest int, day string, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:     NewBaseEvent(EventStreakUpdated, userID, at),
		UserID:        userID,
		Streak:        streak,
		LongestStreak: longest,
		Day:           day,
	}
}

// StreakBrokenEvent is emitted when a gap resets the streak.
type StreakBrokenEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	PreviousStreak int    `json:"previous_streak"`
	DaysMissed     int    `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(userID string, previousStreak, daysMissed int, at time.Time) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userID, at),
		UserID:         userID,
		PreviousStreak: previousStreak,
		DaysMissed:     daysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted on the first unlock of an achievement.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	PointsReward  int64  `json:"points_reward"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"points_reward":  e.PointsReward,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID, name string, reward int64, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID, at),
		UserID:        userID,
		AchievementID: achievementID,
		Name:          name,
		PointsReward:  reward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardRefreshedEvent is emitted by the worker after a cache warm-up.
type LeaderboardRefreshedEvent struct {
	BaseEvent
	Cohort  string `json:"cohort"`
	Entries int    `json:"entries"`
}

// Payload implements Event interface.
func (e LeaderboardRefreshedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cohort":  e.Cohort,
		"entries": e.Entries,
	}
}

// NewLeaderboardRefreshedEvent creates a new LeaderboardRefreshedEvent.
func NewLeaderboardRefreshedEvent(cohort string, entries int, at time.Time) LeaderboardRefreshedEvent {
	return LeaderboardRefreshedEvent{
		BaseEvent: NewBaseEvent(EventLeaderboardRefreshed, "leaderboard:"+cohort, at),
		Cohort:    cohort,
		Entries:   entries,
	}
}

// StoryRecordedEvent is emitted when a published story is counted.
type StoryRecordedEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	StoryCount int    `json:"story_count"`
}

// Payload implements Event interface.
func (e StoryRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"story_count": e.StoryCount,
	}
}

// NewStoryRecordedEvent creates a new StoryRecordedEvent.
func NewStoryRecordedEvent(userID string, storyCount int, at time.Time) StoryRecordedEvent {
	return StoryRecordedEvent{
		BaseEvent:  NewBaseEvent(EventStoryRecorded, userID, at),
		UserID:     userID,
		StoryCount: storyCount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event payload into an envelope.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = b.Correlation()
	}
	return env, nil
}

// Correlation returns the correlation ID, if any.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
