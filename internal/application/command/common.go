// Package command contains write operations (CQRS - Commands).
// Every command performs exactly one atomic mutation against the user's
// progression record and reports its side effects in the result.
package command

import (
	"time"

	"github.com/google/uuid"

	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// MaxAwardAmount bounds the magnitude of a single award.
const MaxAwardAmount int64 = 1_000_000_000

// Options carries the collaborators shared by every command handler.
type Options struct {
	// Clock returns the current instant; defaults to time.Now in UTC.
	Clock func() time.Time

	// NewID generates ids for audit rows and unlocks; defaults to uuid.
	NewID func() string

	// Logger defaults to a no-op logger.
	Logger *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// credit applies amount inside an atomic section and builds the audit row.
func credit(s *progression.State, amount int64, reason, txID string, at time.Time) (progression.Award, progression.PointTransaction) {
	award := progression.ApplyPoints(s, amount)
	s.UpdatedAt = at
	return award, progression.NewTransaction(txID, s.UserID, award, reason, at)
}
