package shared

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxUserIDLength bounds opaque user identifiers.
const MaxUserIDLength = 128

// UserID is an opaque user identifier supplied by the identity layer.
type UserID string

// IsValid checks the ID is non-empty and within bounds.
func (u UserID) IsValid() bool {
	return u != "" && utf8.RuneCountInString(string(u)) <= MaxUserIDLength
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID trims and validates a user identifier.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if u == "" {
		return "", ErrEmptyUserID
	}
	if !u.IsValid() {
		return "", NewDomainError("progression", "Validate", ErrValidation, "user id is too long")
	}
	return u, nil
}

// Achievement IDs are stable slugs such as "first_story" or "streak-7".
var achievementIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]{0,63}$`)

// AchievementID identifies a catalog entry.
type AchievementID string

// IsValid checks if the ID is a well-formed slug.
func (a AchievementID) IsValid() bool {
	return achievementIDRegex.MatchString(string(a))
}

// String returns the string representation.
func (a AchievementID) String() string {
	return string(a)
}

// NewAchievementID normalizes (lowercase, trimmed) and validates an ID.
func NewAchievementID(id string) (AchievementID, error) {
	a := AchievementID(strings.ToLower(strings.TrimSpace(id)))
	if a == "" {
		return "", ErrEmptyAchievementID
	}
	if !a.IsValid() {
		return "", NewDomainError("achievement", "Validate", ErrValidation, "achievement id must be a lowercase slug")
	}
	return a, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Cohort Value Object
// ═══════════════════════════════════════════════════════════════════════════

// CohortAll is the pseudo-cohort meaning "no cohort filter".
const CohortAll = ""

// Cohort groups users for filtered leaderboards.
type Cohort string

// String returns the string representation.
func (c Cohort) String() string {
	return string(c)
}

// IsAll reports whether the cohort selects every user.
func (c Cohort) IsAll() bool {
	return c == CohortAll
}

// Key returns a cache-safe key segment for the cohort.
func (c Cohort) Key() string {
	if c.IsAll() {
		return "all"
	}
	return "c:" + string(c)
}

// NewCohort trims the cohort name. An empty name means "all".
func NewCohort(name string) Cohort {
	return Cohort(strings.TrimSpace(name))
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Rank represents a 1-based position on a leaderboard.
type Rank int

// Unranked means the user is not part of the ranked population.
const Unranked Rank = 0

// IsValid checks if the rank is valid.
func (r Rank) IsValid() bool {
	return r >= 1
}

// Int returns the underlying int value.
func (r Rank) Int() int {
	return int(r)
}

// IsUnranked checks if the user is not ranked.
func (r Rank) IsUnranked() bool {
	return r == Unranked
}

// IsTop returns true if the rank is in the top N.
func (r Rank) IsTop(n int) bool {
	return r.IsValid() && int(r) <= n
}
