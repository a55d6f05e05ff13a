package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorKinds(t *testing.T) {
	assert.True(t, IsNotFound(ErrUserNotFound))
	assert.True(t, IsNotFound(ErrAchievementNotFound))
	assert.True(t, IsValidation(ErrZeroAmount))
	assert.True(t, IsConflict(ErrAlreadyUnlocked))
	assert.True(t, IsClamped(ErrPointsClamped))

	assert.False(t, IsNotFound(ErrZeroAmount))
	assert.False(t, IsInternal(ErrUserNotFound))
}

func TestDomainErrorSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("award: %w", ErrUserNotFound)

	assert.True(t, errors.Is(wrapped, ErrUserNotFound))
	assert.True(t, IsNotFound(wrapped))
}

func TestInternalWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("progression", "Award", cause)

	assert.True(t, IsInternal(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "progression.Award: storage failure: connection reset", err.Error())
}

func TestInternalKeepsKnownKinds(t *testing.T) {
	assert.Same(t, ErrUserNotFound, Internal("progression", "Award", ErrUserNotFound))
	assert.Nil(t, Internal("progression", "Award", nil))
}
