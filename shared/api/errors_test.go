package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindWlm, cause, "launching job")

	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, KindWlm))
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("not a cti error"))
	assert.False(t, ok)
}

func TestIsDistinguishesKinds(t *testing.T) {
	err := NewError(KindStaging, "name collision")

	assert.True(t, Is(err, KindStaging))
	assert.False(t, Is(err, KindUsage))
}

func TestErrorStringIncludesKindAndCause(t *testing.T) {
	err := Wrap(KindHelper, errors.New("pipe closed"), "talking to supervisor")
	assert.Contains(t, err.Error(), "HelperError")
	assert.Contains(t, err.Error(), "pipe closed")
}
