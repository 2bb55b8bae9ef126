package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("clock in: %w", AlreadyClockedIn("emp-1", "rec-1"))

	assert.Equal(t, CodeAlreadyClockedIn, CodeOf(err))
	assert.True(t, Is(err, CodeAlreadyClockedIn))
	assert.False(t, Is(err, CodeNotClockedIn))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.False(t, Is(nil, CodeInternal))
}

func TestError_Message(t *testing.T) {
	err := Validation("reason", "must not be empty")
	assert.Equal(t, "VALIDATION: reason: must not be empty", err.Error())

	cause := errors.New("connection refused")
	tr := Transient("fetch remote", cause)
	assert.Equal(t, "SYNC_TRANSIENT: fetch remote: connection refused", tr.Error())
	assert.ErrorIs(t, tr, cause)
}

func TestError_WithDetail(t *testing.T) {
	err := Permanent("apply", errors.New("bad payload")).WithDetail("entry_id", "e-1")
	assert.Equal(t, "e-1", err.Details["entry_id"])
}
