// Package progression contains the domain model of a user's progression:
// point total, level, writing streak and the tie-break signals used by
// leaderboards.
//
// # Architecture
//
//  1. Zero external dependencies, only the standard library and pkg/timeutil
//  2. Dependency Inversion: Repository is defined here and implemented in
//     infrastructure/persistence
//  3. Pure transitions: ApplyPoints and TouchStreak never do I/O, so every
//     store runs exactly the same logic inside its own atomic section
//
// # Levels
//
// LevelOf is the only level formula in the system:
//
//	LevelOf(0)    == 1
//	LevelOf(999)  == 1
//	LevelOf(1000) == 2
//
// # Atomic mutations
//
// A store applies a Mutation while holding the user's record exclusively
// (a row lock in Postgres, a per-user mutex in memory):
//
//	state, err := repo.Mutate(ctx, userID, func(s *State) ([]PointTransaction, error) {
//	    award := ApplyPoints(s, 25)
//	    return []PointTransaction{NewTransaction(txID, s.UserID, award, "story", now)}, nil
//	})
//
// Returning an error from the Mutation discards every change.
package progression
