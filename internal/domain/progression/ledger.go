package progression

import (
	"math"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POINT TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Award describes the effect of one point delta on a State.
type Award struct {
	Requested     int64
	Applied       int64
	PreviousTotal int64
	NewTotal      int64
	PreviousLevel int
	NewLevel      int

	// Clamped is set when a negative delta would have taken the total
	// below zero; Applied then differs from Requested.
	Clamped bool
}

// LevelUp reports whether the award moved the user to a higher level.
func (a Award) LevelUp() bool {
	return a.NewLevel > a.PreviousLevel
}

// ApplyPoints adds amount to the state's total, clamping at zero, and
// refreshes the cached level. The caller must hold the record exclusively.
func ApplyPoints(s *State, amount int64) Award {
	award := Award{
		Requested:     amount,
		PreviousTotal: s.TotalPoints,
		PreviousLevel: LevelOf(s.TotalPoints),
	}

	next := s.TotalPoints + amount
	switch {
	case amount > 0 && next < s.TotalPoints:
		next = math.MaxInt64
	case next < 0:
		next = 0
		award.Clamped = true
	}

	s.TotalPoints = next
	s.RefreshLevel()

	award.Applied = next - award.PreviousTotal
	award.NewTotal = next
	award.NewLevel = s.Level
	return award
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT TRAIL
// ══════════════════════════════════════════════════════════════════════════════

// PointTransaction is one append-only audit row. The sum of Amount per user
// equals the user's TotalPoints.
type PointTransaction struct {
	ID     string
	UserID string

	// Amount is the delta actually applied after clamping.
	Amount int64

	// Requested is the delta the caller asked for.
	Requested int64

	Reason         string
	Timestamp      time.Time
	ResultingTotal int64
}

// NewTransaction builds the audit row for an applied award.
func NewTransaction(id, userID string, award Award, reason string, at time.Time) PointTransaction {
	return PointTransaction{
		ID:             id,
		UserID:         userID,
		Amount:         award.Applied,
		Requested:      award.Requested,
		Reason:         reason,
		Timestamp:      at,
		ResultingTotal: award.NewTotal,
	}
}

// Clamped reports whether the row records a clamped deduction.
func (t PointTransaction) Clamped() bool {
	return t.Amount != t.Requested
}

func errInvalidState(msg string) error {
	return shared.NewDomainError("progression", "Validate", shared.ErrInternal, msg)
}
