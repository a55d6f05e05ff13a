package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyquest/progression-engine/config"
	"github.com/storyquest/progression-engine/internal/application/engine"
	"github.com/storyquest/progression-engine/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App:   config.AppConfig{Name: "progression-test", Environment: config.EnvDevelopment},
		Redis: config.RedisConfig{Disabled: true},
		Store: config.StoreConfig{Driver: config.DriverMemory},
		Progression: config.ProgressionConfig{
			StreakBonus:             10,
			Timezone:                "UTC",
			Location:                time.UTC,
			LeaderboardDefaultLimit: 10,
			LeaderboardMaxLimit:     100,
			LeaderboardCacheTTL:     time.Second,
		},
		Database: config.DatabaseConfig{QueryTimeout: time.Second},
	}
}

func TestNewMemoryApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Locker())
	require.NoError(t, a.Health(ctx))
	require.NoError(t, a.Migrate(ctx))

	_, _, err = a.Engine.EnsureUser(ctx, "writer-1")
	require.NoError(t, err)
	res, err := a.Engine.UnlockAchievement(ctx, "writer-1", "first_story", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	board, err := a.Engine.GetLeaderboard(ctx, "writer-1", engine.LeaderboardRequest{})
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, int64(50), board.Entries[0].TotalPoints)
}

func TestSeedCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
achievements:
  - id: night_owl
    name: Night Owl
    category: writing
    points_reward: 25
`), 0o600))

	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	n, err := a.SeedCatalog(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	defs, err := a.Engine.ListAchievements(ctx, "writing")
	require.NoError(t, err)
	var ids []string
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	assert.Contains(t, ids, "night_owl")
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "sqlite"

	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestMigrationStatusNeedsPostgres(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.MigrationStatus(context.Background())
	assert.Error(t, err)
}

func TestAutoUnlockRunsAfterCommit(t *testing.T) {
	cfg := memoryConfig()
	cfg.Progression.AutoUnlock = true

	ctx := context.Background()
	a, err := New(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, _, err = a.Engine.EnsureUser(ctx, "writer-1")
	require.NoError(t, err)
	_, err = a.Engine.AwardPoints(ctx, "writer-1", 4000, "contest")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		unlocks, err := a.Engine.ListUnlocks(ctx, "writer-1")
		return err == nil && len(unlocks) == 1 && unlocks[0].AchievementID == "level_5"
	}, 2*time.Second, 10*time.Millisecond)
}
