package progression

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Mutation changes a State in place and returns the audit rows to append.
// It runs while the store holds the user's record exclusively and must not
// perform I/O. Returning an error discards every change.
type Mutation func(s *State) ([]PointTransaction, error)

// Repository stores progression state.
type Repository interface {
	// Ensure creates the record if it does not exist.
	// Reports whether a new record was created.
	Ensure(ctx context.Context, userID string, now time.Time) (State, bool, error)

	// Get returns a snapshot of the record.
	// Returns shared.ErrUserNotFound if the user has no record.
	Get(ctx context.Context, userID string) (State, error)

	// Mutate applies fn atomically: the read, fn, the write and the audit
	// append form one indivisible unit against concurrent mutations of the
	// same user. Returns the committed state.
	// Returns shared.ErrUserNotFound if the user has no record.
	Mutate(ctx context.Context, userID string, fn Mutation) (State, error)

	// Transactions returns the newest audit rows first.
	Transactions(ctx context.Context, userID string, limit int) ([]PointTransaction, error)
}
