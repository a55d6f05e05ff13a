package achievement

import (
	"context"

	"github.com/storyquest/progression-engine/internal/domain/progression"
)

// Catalog is the read-only registry of achievement definitions.
type Catalog interface {
	// Get returns a definition regardless of its active flag.
	// Returns shared.ErrAchievementNotFound if the id is unknown.
	Get(ctx context.Context, id string) (Definition, error)

	// ListActive returns active definitions ordered by SortOrder, then ID.
	// An empty category lists every category.
	ListActive(ctx context.Context, category Category) ([]Definition, error)
}

// CatalogWriter seeds a catalog from an external source.
type CatalogWriter interface {
	Upsert(ctx context.Context, defs []Definition) error
}

// UnlockRepository stores unlock records behind a storage-level uniqueness
// constraint on (user, achievement).
type UnlockRepository interface {
	// Insert records the unlock if absent. When the row is new, award runs
	// against the user's progression record in the same atomic unit and the
	// committed state is returned with inserted=true. When a row already
	// exists nothing is written and inserted=false.
	// Returns shared.ErrUserNotFound if the user has no progression record.
	Insert(ctx context.Context, unlock Unlock, award progression.Mutation) (state progression.State, inserted bool, err error)

	// ListByUser returns a user's unlocks, oldest first.
	ListByUser(ctx context.Context, userID string) ([]Unlock, error)
}
