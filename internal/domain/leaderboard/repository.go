package leaderboard

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// READ MODEL
// ══════════════════════════════════════════════════════════════════════════════

// Source reads standings from a snapshot of the progression store. Reads
// hold no locks and may lag behind a concurrent write.
// An empty cohort selects every user.
type Source interface {
	// Top returns at most limit standings in Ahead order.
	Top(ctx context.Context, cohort string, limit int) ([]Standing, error)

	// Standings returns every standing of the cohort in Ahead order.
	Standings(ctx context.Context, cohort string) ([]Standing, error)

	// Standing returns the standing of one user.
	// Returns shared.ErrUserNotFound if the user has no record.
	Standing(ctx context.Context, userID string) (Standing, error)

	// CountAhead counts the standings of the cohort strictly ahead of s
	// that also satisfy pred (nil accepts everything).
	CountAhead(ctx context.Context, s Standing, cohort string, pred Predicate) (int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache holds precomputed top pages. It is an optimization only: a miss or
// a failure falls back to Source and never changes results beyond the
// staleness window of ttl.
type Cache interface {
	// GetTop returns the cached page, or ok=false on a miss.
	GetTop(ctx context.Context, cohort string, limit int) (snap *Snapshot, ok bool, err error)

	// SetTop stores a page with a TTL.
	SetTop(ctx context.Context, snap *Snapshot, ttl time.Duration) error

	// Invalidate drops every cached page of the cohort.
	Invalidate(ctx context.Context, cohort string) error
}
