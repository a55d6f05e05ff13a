package leaderboard

import (
	"github.com/storyquest/progression-engine/internal/domain/shared"
)

// Default and maximum page sizes.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Predicate restricts the candidate set beyond the cohort.
type Predicate func(Standing) bool

// Filter selects and bounds a leaderboard.
type Filter struct {
	// Cohort is pushed down to storage; empty means every user.
	Cohort string

	// Predicate is evaluated in process; nil accepts everything.
	Predicate Predicate

	// Limit is the page size; zero means DefaultLimit.
	Limit int
}

// Normalize applies defaults and validates the page size against max.
func (f Filter) Normalize(defaultLimit, max int) (Filter, error) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if max <= 0 {
		max = MaxLimit
	}
	if f.Limit < 0 {
		return f, shared.ErrInvalidLimit
	}
	if f.Limit == 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > max {
		f.Limit = max
	}
	f.Cohort = string(shared.NewCohort(f.Cohort))
	return f, nil
}

// Accepts reports whether a standing passes the filter.
func (f Filter) Accepts(s Standing) bool {
	if f.Cohort != "" && s.Cohort != f.Cohort {
		return false
	}
	return f.Predicate == nil || f.Predicate(s)
}

// Cacheable reports whether pages of this filter may be served from Cache.
func (f Filter) Cacheable() bool {
	return f.Predicate == nil
}
