package leaderboard

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a ranked page computed at a point in time. It is the unit the
// page cache stores and the worker warms up.
type Snapshot struct {
	// Cohort is the cohort the page was computed for (empty = everyone).
	Cohort string `json:"cohort"`

	// Limit is the requested page size; Entries may be shorter.
	Limit int `json:"limit"`

	// GeneratedAt is when the page was read from the store.
	GeneratedAt time.Time `json:"generated_at"`

	// Entries are ordered by rank.
	Entries []Entry `json:"entries"`
}

// NewSnapshot ranks sorted standings into a page.
func NewSnapshot(cohort string, limit int, sorted []Standing, at time.Time) *Snapshot {
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return &Snapshot{
		Cohort:      cohort,
		Limit:       limit,
		GeneratedAt: at,
		Entries:     Ranked(sorted),
	}
}

// Top returns at most n entries. The returned slice must not be modified.
func (s *Snapshot) Top(n int) []Entry {
	if n >= len(s.Entries) {
		return s.Entries
	}
	if n < 0 {
		n = 0
	}
	return s.Entries[:n]
}

// Covers reports whether the page can answer a request for limit entries.
func (s *Snapshot) Covers(limit int) bool {
	return s.Limit >= limit || len(s.Entries) < s.Limit
}

// Count returns the number of entries on the page.
func (s *Snapshot) Count() int {
	return len(s.Entries)
}

// IsEmpty reports whether the page has no entries.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Entries) == 0
}

// Age returns how old the page is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.GeneratedAt)
}

// String returns a short description for logs.
func (s *Snapshot) String() string {
	cohort := s.Cohort
	if cohort == "" {
		cohort = "all"
	}
	return fmt.Sprintf("Snapshot[%s]: %d/%d entries at %s",
		cohort, len(s.Entries), s.Limit, s.GeneratedAt.Format(time.RFC3339))
}
