package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

const sampleYAML = `
achievements:
  - id: first_story
    name: First Draft
    category: writing
    points_reward: 50
    sort_order: 10
  - id: streak_7
    name: Week of Ink
    category: streak
    points_reward: 100
    sort_order: 5
    criteria:
      streak: 7
  - id: retired
    name: Retired
    category: streak
    points_reward: 10
    sort_order: 1
    is_active: false
`

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, defs, 3)

	assert.True(t, defs[0].IsActive, "is_active defaults to true")
	assert.False(t, defs[2].IsActive)
	assert.Equal(t, achievement.CategoryStreak, defs[1].Category)
	assert.Equal(t, 7, defs[1].Criteria["streak"])
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("achievements:\n  - id: x\n    name: X\n    reward: 5\n"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	_, err := Parse([]byte("achievements:\n  - id: x\n    name: X\n    points_reward: -5\n"))
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestStaticCatalog(t *testing.T) {
	ctx := context.Background()
	defs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	c, err := NewStatic(defs)
	require.NoError(t, err)

	def, err := c.Get(ctx, "retired")
	require.NoError(t, err)
	assert.False(t, def.IsActive)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrAchievementNotFound)

	active, err := c.ListActive(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "streak_7", active[0].ID)
	assert.Equal(t, "first_story", active[1].ID)

	streak, err := c.ListActive(ctx, achievement.CategoryStreak)
	require.NoError(t, err)
	require.Len(t, streak, 1)
	assert.Equal(t, "streak_7", streak[0].ID)
}

func TestStaticRejectsDuplicates(t *testing.T) {
	d := achievement.Definition{ID: "dup", Name: "Dup", IsActive: true}
	_, err := NewStatic([]achievement.Definition{d, d})
	assert.True(t, shared.IsValidation(err))
}

func TestLoadStatic(t *testing.T) {
	c, err := LoadStatic("")
	require.NoError(t, err)
	assert.Len(t, c.All(), len(achievement.DefaultDefinitions()))

	path := filepath.Join(t.TempDir(), "achievements.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	c, err = LoadStatic(path)
	require.NoError(t, err)
	assert.Len(t, c.All(), 3)

	_, err = LoadStatic(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedCatalogFileIsValid(t *testing.T) {
	defs, err := LoadFile(filepath.Join("..", "..", "..", "configs", "achievements.yaml"))
	require.NoError(t, err)
	_, err = NewStatic(defs)
	require.NoError(t, err)
}
