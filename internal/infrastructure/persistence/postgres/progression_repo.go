package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const progressionColumns = `user_id, total_points, level, current_streak, longest_streak,
	last_active_date, story_count, cohort, created_at, updated_at`

// ProgressionRepository implements progression.Repository for PostgreSQL.
type ProgressionRepository struct {
	conn *Connection
}

// NewProgressionRepository creates a new ProgressionRepository.
func NewProgressionRepository(conn *Connection) *ProgressionRepository {
	return &ProgressionRepository{conn: conn}
}

// Ensure inserts a zeroed record unless one exists.
func (r *ProgressionRepository) Ensure(ctx context.Context, userID string, now time.Time) (progression.State, bool, error) {
	fresh := progression.NewState(userID, now)

	row := r.conn.QueryRow(ctx, `
		INSERT INTO user_progression (user_id, total_points, level, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+progressionColumns,
		userID, fresh.Level, now,
	)
	state, err := scanState(row)
	if err == nil {
		return state, true, nil
	}
	if !IsNoRows(err) {
		return progression.State{}, false, fmt.Errorf("failed to ensure progression: %w", err)
	}

	state, err = r.Get(ctx, userID)
	if err != nil {
		return progression.State{}, false, err
	}
	return state, false, nil
}

// Get returns the user's record.
func (r *ProgressionRepository) Get(ctx context.Context, userID string) (progression.State, error) {
	state, err := scanState(r.conn.QueryRow(ctx,
		`SELECT `+progressionColumns+` FROM user_progression WHERE user_id = $1`, userID))
	if IsNoRows(err) {
		return progression.State{}, shared.ErrUserNotFound
	}
	if err != nil {
		return progression.State{}, fmt.Errorf("failed to get progression: %w", err)
	}
	return state, nil
}

// Mutate locks the record with SELECT ... FOR UPDATE, applies fn and writes
// the state and its audit rows in the same transaction.
func (r *ProgressionRepository) Mutate(ctx context.Context, userID string, fn progression.Mutation) (progression.State, error) {
	var committed progression.State
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		state, err := lockState(ctx, tx, userID)
		if err != nil {
			return err
		}
		committed, err = applyMutation(ctx, tx, state, fn)
		return err
	})
	if err != nil {
		return progression.State{}, err
	}
	return committed, nil
}

// Transactions returns the newest audit rows first. limit <= 0 returns all.
func (r *ProgressionRepository) Transactions(ctx context.Context, userID string, limit int) ([]progression.PointTransaction, error) {
	if err := r.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, amount, requested, reason, resulting_total, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY seq DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []progression.PointTransaction
	for rows.Next() {
		var t progression.PointTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Requested, &t.Reason, &t.ResultingTotal, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *ProgressionRepository) requireUser(ctx context.Context, userID string) error {
	return userExists(ctx, r.conn, userID)
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS (shared with the unlock repository)
// ─────────────────────────────────────────────────────────────────────────────

func userExists(ctx context.Context, q *Connection, userID string) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_progression WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return shared.ErrUserNotFound
	}
	return nil
}

// lockState reads the record and holds its row lock until the transaction ends.
func lockState(ctx context.Context, tx pgx.Tx, userID string) (progression.State, error) {
	state, err := scanState(tx.QueryRow(ctx,
		`SELECT `+progressionColumns+` FROM user_progression WHERE user_id = $1 FOR UPDATE`, userID))
	if IsNoRows(err) {
		return progression.State{}, shared.ErrUserNotFound
	}
	if err != nil {
		return progression.State{}, fmt.Errorf("failed to lock progression: %w", err)
	}
	return state, nil
}

// applyMutation runs fn against a copy of a locked state and persists the
// result. The caller owns the transaction.
func applyMutation(ctx context.Context, tx pgx.Tx, state progression.State, fn progression.Mutation) (progression.State, error) {
	working := state
	txs, err := fn(&working)
	if err != nil {
		return progression.State{}, err
	}
	if err := working.Validate(); err != nil {
		return progression.State{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE user_progression SET
			total_points = $2,
			level = $3,
			current_streak = $4,
			longest_streak = $5,
			last_active_date = $6,
			story_count = $7,
			cohort = $8,
			updated_at = $9
		WHERE user_id = $1
	`,
		working.UserID,
		working.TotalPoints,
		working.Level,
		working.Streak,
		working.LongestStreak,
		dayValue(working.LastActiveDate),
		working.StoryCount,
		working.Cohort,
		working.UpdatedAt,
	)
	if err != nil {
		return progression.State{}, fmt.Errorf("failed to update progression: %w", err)
	}

	if len(txs) > 0 {
		batch := &pgx.Batch{}
		for _, t := range txs {
			batch.Queue(`
				INSERT INTO point_transactions (id, user_id, amount, requested, reason, resulting_total, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, t.ID, t.UserID, t.Amount, t.Requested, t.Reason, t.ResultingTotal, t.Timestamp)
		}
		br := tx.SendBatch(ctx, batch)
		for range txs {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return progression.State{}, fmt.Errorf("failed to insert transaction: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return progression.State{}, fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	return working, nil
}

func scanState(row pgx.Row) (progression.State, error) {
	var s progression.State
	var lastActive *time.Time
	err := row.Scan(
		&s.UserID,
		&s.TotalPoints,
		&s.Level,
		&s.Streak,
		&s.LongestStreak,
		&lastActive,
		&s.StoryCount,
		&s.Cohort,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return progression.State{}, err
	}
	if lastActive != nil {
		s.LastActiveDate = timeutil.NewDay(lastActive.Year(), lastActive.Month(), lastActive.Day())
	}
	return s, nil
}

// dayValue maps the zero Day to NULL.
func dayValue(d timeutil.Day) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.Time()
}
