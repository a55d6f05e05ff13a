package command

import (
	"context"
	"strings"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// Atomic increment (or administrative decrement) of a user's point total.
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsCommand contains the data to award points.
type AwardPointsCommand struct {
	// UserID is the already-authenticated user.
	UserID string

	// Amount is non-zero; negative values are administrative corrections.
	Amount int64

	// Reason is recorded in the audit trail, e.g. "story:123" or "admin".
	Reason string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command. No mutation happens when it fails.
func (c *AwardPointsCommand) Validate() error {
	id, err := shared.NewUserID(c.UserID)
	if err != nil {
		return err
	}
	c.UserID = id.String()
	c.Reason = strings.TrimSpace(c.Reason)

	switch {
	case c.Amount == 0:
		return shared.ErrZeroAmount
	case c.Amount > MaxAwardAmount || c.Amount < -MaxAwardAmount:
		return shared.NewDomainError("progression", "Award", shared.ErrValidation, "amount is out of range")
	case c.Reason == "":
		return shared.ErrEmptyReason
	}
	return nil
}

// AwardPointsResult contains the result of an award.
type AwardPointsResult struct {
	UserID string

	// NewTotal is the committed point total.
	NewTotal int64

	// Applied is the delta actually applied; it differs from the requested
	// amount only when Clamped is set.
	Applied int64

	PreviousLevel int
	NewLevel      int
	LevelUp       bool

	// Clamped is set when a deduction was limited to keep the total at zero.
	Clamped bool

	// Transaction is the audit row appended with the increment.
	Transaction progression.PointTransaction

	// State is the committed progression record.
	State progression.State

	// Events contains domain events generated.
	Events []shared.Event
}

// Warning returns shared.ErrPointsClamped when the award was clamped.
// The award itself succeeded either way.
func (r *AwardPointsResult) Warning() error {
	if r.Clamped {
		return shared.ErrPointsClamped
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// PointsLedger is the single writer of point totals.
type PointsLedger struct {
	repo  progression.Repository
	clock func() time.Time
	newID func() string
	log   *logger.Logger
}

// NewPointsLedger creates a new PointsLedger.
func NewPointsLedger(repo progression.Repository, opts Options) *PointsLedger {
	opts = opts.withDefaults()
	return &PointsLedger{
		repo:  repo,
		clock: opts.Clock,
		newID: opts.NewID,
		log:   opts.Logger.With(logger.Component("points_ledger")),
	}
}

// Award applies the command atomically and appends the audit row in the
// same unit.
func (l *PointsLedger) Award(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := l.clock()
	txID := l.newID()

	var (
		award progression.Award
		tx    progression.PointTransaction
	)
	state, err := l.repo.Mutate(ctx, cmd.UserID, func(s *progression.State) ([]progression.PointTransaction, error) {
		award, tx = credit(s, cmd.Amount, cmd.Reason, txID, now)
		return []progression.PointTransaction{tx}, nil
	})
	if err != nil {
		return nil, shared.Internal("progression", "Award", err)
	}

	result := &AwardPointsResult{
		UserID:        cmd.UserID,
		NewTotal:      state.TotalPoints,
		Applied:       award.Applied,
		PreviousLevel: award.PreviousLevel,
		NewLevel:      state.Level,
		LevelUp:       award.LevelUp(),
		Clamped:       award.Clamped,
		Transaction:   tx,
		State:         state,
	}
	result.Events = awardEvents(cmd.UserID, award, tx, cmd.CorrelationID, now)

	if award.Clamped {
		l.log.Warn("points clamped at zero",
			logger.UserID(cmd.UserID),
			logger.Int64("requested", award.Requested),
			logger.Int64("applied", award.Applied),
			logger.Reason(cmd.Reason),
		)
	} else {
		l.log.Info("points awarded",
			logger.UserID(cmd.UserID),
			logger.Points(award.Applied),
			logger.Total(state.TotalPoints),
			logger.Reason(cmd.Reason),
		)
	}

	return result, nil
}

// awardEvents builds the events of one ledger credit.
func awardEvents(userID string, award progression.Award, tx progression.PointTransaction, correlationID string, at time.Time) []shared.Event {
	awarded := shared.NewPointsAwardedEvent(userID, tx.ID, award.Applied, award.NewTotal, tx.Reason, at)
	awarded.BaseEvent = awarded.WithCorrelationID(correlationID)
	events := []shared.Event{awarded}

	if award.Clamped {
		clamped := shared.NewPointsClampedEvent(userID, award.Requested, award.Applied, at)
		clamped.BaseEvent = clamped.WithCorrelationID(correlationID)
		events = append(events, clamped)
	}
	if award.LevelUp() {
		up := shared.NewLevelUpEvent(userID, award.PreviousLevel, award.NewLevel, award.NewTotal, at)
		up.BaseEvent = up.WithCorrelationID(correlationID)
		events = append(events, up)
	}
	return events
}
