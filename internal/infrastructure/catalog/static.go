// Package catalog provides achievement catalogs that live in process:
// a static registry and a YAML file loader feeding it.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// Static is a read-mostly catalog held in memory.
type Static struct {
	mu   sync.RWMutex
	defs map[string]achievement.Definition
}

var (
	_ achievement.Catalog       = (*Static)(nil)
	_ achievement.CatalogWriter = (*Static)(nil)
)

// NewStatic validates defs and builds a catalog from them.
func NewStatic(defs []achievement.Definition) (*Static, error) {
	c := &Static{defs: make(map[string]achievement.Definition, len(defs))}
	if err := c.Upsert(context.Background(), defs); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Static {
	c, err := NewStatic(achievement.DefaultDefinitions())
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in definitions are invalid: %v", err))
	}
	return c
}

// Get returns a definition by id, active or not.
func (c *Static) Get(_ context.Context, id string) (achievement.Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.defs[id]
	if !ok {
		return achievement.Definition{}, shared.ErrAchievementNotFound
	}
	return def, nil
}

// ListActive returns active definitions ordered by SortOrder, then ID.
func (c *Static) ListActive(_ context.Context, category achievement.Category) ([]achievement.Definition, error) {
	return achievement.FilterActive(c.All(), category), nil
}

// All returns every definition ordered by SortOrder, then ID.
func (c *Static) All() []achievement.Definition {
	c.mu.RLock()
	out := make([]achievement.Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	c.mu.RUnlock()

	achievement.Sort(out)
	return out
}

// Upsert validates every definition first and then replaces them as a batch.
// Duplicate ids inside one batch are rejected.
func (c *Static) Upsert(_ context.Context, defs []achievement.Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return shared.NewDomainError("achievement", "Upsert", shared.ErrValidation, "duplicate achievement id: "+d.ID)
		}
		seen[d.ID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range defs {
		c.defs[d.ID] = d
	}
	return nil
}
