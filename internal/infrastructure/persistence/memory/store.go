// Package memory implements the progression stores in process memory.
//
// It is meant for tests and local development; configuration refuses it in
// production because state does not survive a restart and is not shared
// between processes. Atomicity is a per-user critical section: every
// mutation of a user's record, audit trail and unlock index happens under
// that user's mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
	"github.com/storyquest/progression-engine/internal/domain/progression"
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// record is one user's progression data. mu guards every field.
type record struct {
	mu      sync.Mutex
	state   progression.State
	txs     []progression.PointTransaction
	unlocks []achievement.Unlock
	unique  map[string]struct{}
}

// Store is an in-memory progression store.
type Store struct {
	// mu guards the users map only; it is never held while waiting on a
	// record mutex.
	mu    sync.RWMutex
	users map[string]*record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{users: make(map[string]*record)}
}

var (
	_ progression.Repository       = (*Store)(nil)
	_ achievement.UnlockRepository = (*Store)(nil)
	_ leaderboard.Source           = (*Store)(nil)
)

func (s *Store) lookup(userID string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return rec, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Ensure creates the user's record if absent.
func (s *Store) Ensure(ctx context.Context, userID string, now time.Time) (progression.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return progression.State{}, false, err
	}

	s.mu.Lock()
	rec, ok := s.users[userID]
	if !ok {
		rec = &record{
			state:  progression.NewState(userID, now),
			unique: make(map[string]struct{}),
		}
		s.users[userID] = rec
	}
	s.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, !ok, nil
}

// Get returns a copy of the user's state.
func (s *Store) Get(ctx context.Context, userID string) (progression.State, error) {
	if err := ctx.Err(); err != nil {
		return progression.State{}, err
	}
	rec, err := s.lookup(userID)
	if err != nil {
		return progression.State{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, nil
}

// Mutate runs fn on a copy of the state under the user's mutex and commits
// the copy only if fn succeeds and the result is valid.
func (s *Store) Mutate(ctx context.Context, userID string, fn progression.Mutation) (progression.State, error) {
	if err := ctx.Err(); err != nil {
		return progression.State{}, err
	}
	rec, err := s.lookup(userID)
	if err != nil {
		return progression.State{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.apply(fn); err != nil {
		return progression.State{}, err
	}
	return rec.state, nil
}

// apply must be called with rec.mu held.
func (rec *record) apply(fn progression.Mutation) error {
	working := rec.state
	txs, err := fn(&working)
	if err != nil {
		return err
	}
	if err := working.Validate(); err != nil {
		return err
	}
	rec.state = working
	rec.txs = append(rec.txs, txs...)
	return nil
}

// Transactions returns the newest audit rows first. limit <= 0 returns all.
func (s *Store) Transactions(ctx context.Context, userID string, limit int) ([]progression.PointTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	n := len(rec.txs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]progression.PointTransaction, 0, n)
	for i := len(rec.txs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, rec.txs[i])
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Insert records the unlock if the (user, achievement) pair is new and runs
// award in the same critical section.
func (s *Store) Insert(ctx context.Context, unlock achievement.Unlock, award progression.Mutation) (progression.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return progression.State{}, false, err
	}
	rec, err := s.lookup(unlock.UserID)
	if err != nil {
		return progression.State{}, false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, exists := rec.unique[unlock.AchievementID]; exists {
		return rec.state, false, nil
	}
	if award != nil {
		if err := rec.apply(award); err != nil {
			return progression.State{}, false, err
		}
	}
	rec.unique[unlock.AchievementID] = struct{}{}
	rec.unlocks = append(rec.unlocks, unlock)
	return rec.state, true, nil
}

// ListByUser returns the user's unlocks, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]achievement.Unlock, len(rec.unlocks))
	copy(out, rec.unlocks)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// snapshot copies the standings of a cohort. Each record is read under its
// own mutex, so the result is per-record consistent, not a global snapshot.
func (s *Store) snapshot(cohort string) []leaderboard.Standing {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.users))
	for _, rec := range s.users {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]leaderboard.Standing, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		st := leaderboard.FromState(rec.state)
		rec.mu.Unlock()
		if cohort != "" && st.Cohort != cohort {
			continue
		}
		out = append(out, st)
	}
	return out
}

// Top returns at most limit standings in rank order.
func (s *Store) Top(ctx context.Context, cohort string, limit int) ([]leaderboard.Standing, error) {
	all, err := s.Standings(ctx, cohort)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Standings returns every standing of the cohort in rank order.
func (s *Store) Standings(ctx context.Context, cohort string) ([]leaderboard.Standing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := s.snapshot(cohort)
	leaderboard.Sort(all)
	return all, nil
}

// Standing returns one user's standing.
func (s *Store) Standing(ctx context.Context, userID string) (leaderboard.Standing, error) {
	state, err := s.Get(ctx, userID)
	if err != nil {
		return leaderboard.Standing{}, err
	}
	return leaderboard.FromState(state), nil
}

// CountAhead counts standings strictly ahead of st without sorting.
func (s *Store) CountAhead(ctx context.Context, st leaderboard.Standing, cohort string, pred leaderboard.Predicate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, other := range s.snapshot(cohort) {
		if leaderboard.Ahead(other, st) && (pred == nil || pred(other)) {
			n++
		}
	}
	return n, nil
}

// UserIDs returns every known user id, sorted.
func (s *Store) UserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
