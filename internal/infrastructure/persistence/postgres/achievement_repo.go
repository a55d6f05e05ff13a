package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const achievementColumns = `id, name, description, category, points_reward, sort_order, is_active, criteria`

// CatalogRepository implements achievement.Catalog and
// achievement.CatalogWriter for PostgreSQL.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// Get returns a definition regardless of its active flag.
func (r *CatalogRepository) Get(ctx context.Context, id string) (achievement.Definition, error) {
	def, err := scanDefinition(r.conn.QueryRow(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE id = $1`, id))
	if IsNoRows(err) {
		return achievement.Definition{}, shared.ErrAchievementNotFound
	}
	if err != nil {
		return achievement.Definition{}, fmt.Errorf("failed to get achievement: %w", err)
	}
	return def, nil
}

// ListActive returns active definitions ordered by sort order, then id.
func (r *CatalogRepository) ListActive(ctx context.Context, category achievement.Category) ([]achievement.Definition, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+achievementColumns+`
		FROM achievements
		WHERE is_active AND ($1::text = '' OR category = $1::text)
		ORDER BY sort_order, id COLLATE "C"
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var out []achievement.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// Upsert validates and writes definitions in one transaction. Existing rows
// are updated in place; unlock records are never touched.
func (r *CatalogRepository) Upsert(ctx context.Context, defs []achievement.Definition) error {
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	if len(defs) == 0 {
		return nil
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range defs {
			criteria, err := criteriaValue(d.Criteria)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO achievements (`+achievementColumns+`, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					category = EXCLUDED.category,
					points_reward = EXCLUDED.points_reward,
					sort_order = EXCLUDED.sort_order,
					is_active = EXCLUDED.is_active,
					criteria = EXCLUDED.criteria,
					updated_at = NOW()
			`, d.ID, d.Name, d.Description, string(d.Category), d.PointsReward, d.SortOrder, d.IsActive, criteria)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for _, d := range defs {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to upsert achievement %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

func scanDefinition(row pgx.Row) (achievement.Definition, error) {
	var d achievement.Definition
	var category string
	var criteria []byte
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &category, &d.PointsReward, &d.SortOrder, &d.IsActive, &criteria); err != nil {
		return achievement.Definition{}, err
	}
	d.Category = achievement.Category(category)
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &d.Criteria); err != nil {
			return achievement.Definition{}, fmt.Errorf("decode criteria of %s: %w", d.ID, err)
		}
	}
	return d, nil
}

func criteriaValue(criteria map[string]any) (interface{}, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(criteria)
	if err != nil {
		return nil, fmt.Errorf("encode criteria: %w", err)
	}
	return string(data), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// UnlockRepository implements achievement.UnlockRepository for PostgreSQL.
// The UNIQUE (user_id, achievement_id) constraint decides which of several
// concurrent unlocks wins.
type UnlockRepository struct {
	conn *Connection
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(conn *Connection) *UnlockRepository {
	return &UnlockRepository{conn: conn}
}

// Insert locks the user's record, inserts the unlock unless present and, for
// a new row, applies award in the same transaction.
func (r *UnlockRepository) Insert(ctx context.Context, unlock achievement.Unlock, award progression.Mutation) (progression.State, bool, error) {
	var committed progression.State
	var inserted bool

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		state, err := lockState(ctx, tx, unlock.UserID)
		if err != nil {
			return err
		}

		var unlockContext interface{}
		if len(unlock.Context) > 0 {
			unlockContext = string(unlock.Context)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_achievements (id, user_id, achievement_id, unlocked_at, context)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, achievement_id) DO NOTHING
		`, unlock.ID, unlock.UserID, unlock.AchievementID, unlock.UnlockedAt, unlockContext)
		if IsForeignKeyViolation(err) {
			return shared.ErrAchievementNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to insert unlock: %w", err)
		}

		if tag.RowsAffected() == 0 {
			committed = state
			return nil
		}
		inserted = true

		if award == nil {
			committed = state
			return nil
		}
		committed, err = applyMutation(ctx, tx, state, award)
		return err
	})
	if err != nil {
		return progression.State{}, false, err
	}
	return committed, inserted, nil
}

// ListByUser returns the user's unlocks, oldest first.
func (r *UnlockRepository) ListByUser(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	if err := userExists(ctx, r.conn, userID); err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, user_id, achievement_id, unlocked_at, context
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	defer rows.Close()

	var out []achievement.Unlock
	for rows.Next() {
		var u achievement.Unlock
		var raw []byte
		if err := rows.Scan(&u.ID, &u.UserID, &u.AchievementID, &u.UnlockedAt, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		if len(raw) > 0 {
			u.Context = json.RawMessage(raw)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
