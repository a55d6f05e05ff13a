package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

const migrationsTable = "schema_migrations"

// Migration is one schema step. AppliedAt is set only when IsApplied.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations in version order, each in its
// own transaction together with its bookkeeping row.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over GetMigrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.conn.Query(ctx, "SELECT version, applied_at FROM "+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Migrate applies every pending migration.
func (m *Migrator) Migrate(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO "+migrationsTable+" (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the newest applied migration. It returns the reverted
// migration, or nil when nothing is applied.
func (m *Migrator) Rollback(ctx context.Context) (*Migration, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var last *Migration
	for i := range m.migrations {
		if _, ok := done[m.migrations[i].Version]; ok {
			last = &m.migrations[i]
		}
	}
	if last == nil {
		return nil, nil
	}

	err = m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, last.DownSQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM "+migrationsTable+" WHERE version = $1", last.Version)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rollback %d (%s): %v", ErrMigrationFailed, last.Version, last.Name, err)
	}
	return last, nil
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := done[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_progression", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_achievements", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_leaderboard_indexes", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create progression tables
-- Version: 001

-- One row per user, created when the account is created.
CREATE TABLE IF NOT EXISTS user_progression (
    user_id VARCHAR(128) PRIMARY KEY,
    total_points BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_active_date DATE,
    story_count INTEGER NOT NULL DEFAULT 0,
    cohort VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_points CHECK (total_points >= 0),
    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_story_count CHECK (story_count >= 0)
);

-- Append-only audit of every point change.
CREATE TABLE IF NOT EXISTS point_transactions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES user_progression(user_id) ON DELETE CASCADE,
    amount BIGINT NOT NULL,
    requested BIGINT NOT NULL,
    reason VARCHAR(200) NOT NULL,
    resulting_total BIGINT NOT NULL,
    seq BIGSERIAL NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_point_transactions_user_seq ON point_transactions(user_id, seq DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS point_transactions;
DROP TABLE IF EXISTS user_progression;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create achievement catalog and unlocks
-- Version: 002

CREATE TABLE IF NOT EXISTS achievements (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(30) NOT NULL DEFAULT '',
    points_reward BIGINT NOT NULL DEFAULT 0,
    sort_order INTEGER NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    criteria JSONB,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_points_reward CHECK (points_reward >= 0)
);

CREATE INDEX IF NOT EXISTS idx_achievements_active_order ON achievements(sort_order, id) WHERE is_active;

-- At most one unlock per (user, achievement).
CREATE TABLE IF NOT EXISTS user_achievements (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES user_progression(user_id) ON DELETE CASCADE,
    achievement_id VARCHAR(64) NOT NULL REFERENCES achievements(id),
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    context JSONB,
    seq BIGSERIAL NOT NULL,

    UNIQUE(user_id, achievement_id)
);

CREATE INDEX IF NOT EXISTS idx_user_achievements_user_seq ON user_achievements(user_id, seq);
`

const migration002Down = `
DROP TABLE IF EXISTS user_achievements;
DROP TABLE IF EXISTS achievements;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: LEADERBOARD INDEXES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Indexes matching the leaderboard precedence chain
-- Version: 003

CREATE INDEX IF NOT EXISTS idx_progression_rank
    ON user_progression(total_points DESC, level DESC, story_count DESC, user_id COLLATE "C" ASC);

CREATE INDEX IF NOT EXISTS idx_progression_cohort_rank
    ON user_progression(cohort, total_points DESC, level DESC, story_count DESC, user_id COLLATE "C" ASC);
`

const migration003Down = `
DROP INDEX IF EXISTS idx_progression_cohort_rank;
DROP INDEX IF EXISTS idx_progression_rank;
`
