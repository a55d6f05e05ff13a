package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SOURCE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	standingColumns = `user_id, total_points, level, story_count, current_streak, cohort`

	// rankOrder mirrors leaderboard.Ahead. COLLATE "C" makes the user id
	// tie-break byte-wise, like Go string comparison.
	rankOrder = `total_points DESC, level DESC, story_count DESC, user_id COLLATE "C" ASC`

	cohortFilter = `($1::text = '' OR cohort = $1::text)`

	// aheadOf selects rows strictly ahead of ($2, $3, $4, $5) =
	// (points, level, stories, user id).
	aheadOf = `(
		total_points > $2
		OR (total_points = $2 AND level > $3)
		OR (total_points = $2 AND level = $3 AND story_count > $4)
		OR (total_points = $2 AND level = $3 AND story_count = $4 AND user_id COLLATE "C" < $5::text COLLATE "C")
	)`
)

// LeaderboardRepository implements leaderboard.Source for PostgreSQL.
// Rankings are computed from user_progression on every call.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

// Top returns at most limit standings in rank order.
func (r *LeaderboardRepository) Top(ctx context.Context, cohort string, limit int) ([]leaderboard.Standing, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+standingColumns+`
		FROM user_progression
		WHERE `+cohortFilter+`
		ORDER BY `+rankOrder+`
		LIMIT $2
	`, cohort, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top: %w", err)
	}
	return collectStandings(rows)
}

// Standings returns every standing of the cohort in rank order.
func (r *LeaderboardRepository) Standings(ctx context.Context, cohort string) ([]leaderboard.Standing, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+standingColumns+`
		FROM user_progression
		WHERE `+cohortFilter+`
		ORDER BY `+rankOrder,
		cohort)
	if err != nil {
		return nil, fmt.Errorf("failed to query standings: %w", err)
	}
	return collectStandings(rows)
}

// Standing returns one user's standing.
func (r *LeaderboardRepository) Standing(ctx context.Context, userID string) (leaderboard.Standing, error) {
	st, err := scanStanding(r.conn.QueryRow(ctx,
		`SELECT `+standingColumns+` FROM user_progression WHERE user_id = $1`, userID))
	if IsNoRows(err) {
		return leaderboard.Standing{}, shared.ErrUserNotFound
	}
	if err != nil {
		return leaderboard.Standing{}, fmt.Errorf("failed to get standing: %w", err)
	}
	return st, nil
}

// CountAhead counts rows strictly ahead of st. Without a predicate the
// count runs in the database; with one, only the rows ahead are streamed
// and the predicate is applied to each.
func (r *LeaderboardRepository) CountAhead(ctx context.Context, st leaderboard.Standing, cohort string, pred leaderboard.Predicate) (int, error) {
	args := []interface{}{cohort, st.TotalPoints, st.Level, st.StoryCount, st.UserID}

	if pred == nil {
		var n int
		err := r.conn.QueryRow(ctx, `
			SELECT count(*)
			FROM user_progression
			WHERE `+cohortFilter+` AND `+aheadOf,
			args...,
		).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count ahead: %w", err)
		}
		return n, nil
	}

	rows, err := r.conn.Query(ctx, `
		SELECT `+standingColumns+`
		FROM user_progression
		WHERE `+cohortFilter+` AND `+aheadOf,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query ahead: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		other, err := scanStanding(rows)
		if err != nil {
			return 0, fmt.Errorf("failed to scan standing: %w", err)
		}
		if pred(other) {
			n++
		}
	}
	return n, rows.Err()
}

func collectStandings(rows pgx.Rows) ([]leaderboard.Standing, error) {
	defer rows.Close()

	var out []leaderboard.Standing
	for rows.Next() {
		st, err := scanStanding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStanding(row pgx.Row) (leaderboard.Standing, error) {
	var st leaderboard.Standing
	err := row.Scan(&st.UserID, &st.TotalPoints, &st.Level, &st.StoryCount, &st.Streak, &st.Cohort)
	return st, err
}
