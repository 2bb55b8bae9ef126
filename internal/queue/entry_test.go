package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/apperr"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func TestNewEntry_ValidForEveryShape(t *testing.T) {
	data := json.RawMessage(`{"id":"rec-1"}`)

	tests := []struct {
		op   Operation
		data json.RawMessage
	}{
		{OpCreate, data},
		{OpUpdate, data},
		{OpDelete, nil},
		{OpDelete, data},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			e := NewEntry("q-1", tt.op, "attendance_record", "rec-1", tt.data, nil, t0)
			assert.Equal(t, StatusPending, e.Status)
			assert.Zero(t, e.Attempts)
			assert.NoError(t, Validate(e))
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	e := NewEntry("q-1", "upsert", "", "", nil, nil, t0)
	err := Validate(e)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	assert.Contains(t, err.Error(), "operation")
	assert.Contains(t, err.Error(), "entityType")
	assert.Contains(t, err.Error(), "entityId")
}

func TestValidate_DataRequiredForCreateAndUpdate(t *testing.T) {
	for _, op := range []Operation{OpCreate, OpUpdate} {
		assert.Error(t, Validate(NewEntry("q", op, "t", "id", nil, nil, t0)))
		assert.Error(t, Validate(NewEntry("q", op, "t", "id", json.RawMessage("null"), nil, t0)))
		assert.Error(t, Validate(NewEntry("q", op, "t", "id", json.RawMessage("{"), nil, t0)))
	}
}

func TestRetryDelay(t *testing.T) {
	want := []time.Duration{1000, 2000, 4000, 8000, 16000}
	for n, ms := range want {
		assert.Equal(t, ms*time.Millisecond, RetryDelay(n), "n=%d", n)
	}
	assert.Equal(t, time.Second, RetryDelay(-3))
}

func TestMarkFailed_SchedulesBackoff(t *testing.T) {
	e := NewEntry("q-1", OpCreate, "t", "id", json.RawMessage(`{}`), nil, t0)
	e = MarkProcessing(e, t0)
	assert.Equal(t, StatusProcessing, e.Status)

	e = MarkFailed(e, t0, errors.New("boom"), "")
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, "boom", e.LastError)
	require.NotNil(t, e.LastAttempt)
	require.NotNil(t, e.NextAttemptAt)
	assert.Equal(t, t0.Add(time.Second), *e.NextAttemptAt)
	assert.True(t, ShouldRetry(e))

	assert.False(t, Due(e, t0.Add(999*time.Millisecond)))
	assert.True(t, Due(e, t0.Add(time.Second)))

	e = MarkFailed(Requeue(e, t0), t0, errors.New("boom"), "")
	assert.Equal(t, t0.Add(2*time.Second), *e.NextAttemptAt)
}

func TestMarkFailed_ExhaustsAfterMaxAttempts(t *testing.T) {
	e := NewEntry("q-1", OpCreate, "t", "id", json.RawMessage(`{}`), nil, t0)
	for i := 0; i < MaxAttempts; i++ {
		e = MarkFailed(MarkProcessing(Requeue(e, t0), t0), t0, errors.New("down"), "")
	}

	assert.Equal(t, MaxAttempts, e.Attempts)
	assert.Equal(t, StatusFailed, e.Status)
	assert.False(t, ShouldRetry(e))
	assert.True(t, Terminal(e))
	assert.Nil(t, e.NextAttemptAt)
	assert.False(t, Due(e, t0.Add(time.Hour)))
}

func TestMarkFailed_WithConflictParks(t *testing.T) {
	e := NewEntry("q-1", OpUpdate, "t", "id", json.RawMessage(`{}`), nil, t0)
	e = MarkFailed(e, t0, errors.New("conflict"), "c-1")

	assert.Equal(t, "c-1", e.ConflictID)
	assert.True(t, Parked(e))
	assert.False(t, ShouldRetry(e))
	assert.False(t, Terminal(e))
	assert.Nil(t, e.NextAttemptAt)
}

func TestMarkPermanentlyFailed(t *testing.T) {
	e := NewEntry("q-1", OpDelete, "attendance_record", "id", nil, nil, t0)
	e = MarkPermanentlyFailed(e, t0, errors.New("records are never deleted"))

	assert.Equal(t, 1, e.Attempts)
	assert.True(t, e.Permanent)
	assert.True(t, Terminal(e))
	assert.False(t, ShouldRetry(e))
}

func TestReset_GivesFreshBudget(t *testing.T) {
	e := NewEntry("q-1", OpCreate, "t", "id", json.RawMessage(`{}`), nil, t0)
	e = MarkPermanentlyFailed(e, t0, errors.New("rejected"))

	e = Reset(e, t0.Add(time.Minute))
	assert.Equal(t, StatusPending, e.Status)
	assert.Zero(t, e.Attempts)
	assert.False(t, e.Permanent)
	assert.Empty(t, e.LastError)
}

func TestMarkCompleted(t *testing.T) {
	e := NewEntry("q-1", OpCreate, "t", "id", json.RawMessage(`{}`), nil, t0)
	e = MarkCompleted(MarkProcessing(e, t0), t0.Add(time.Second))
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, t0.Add(time.Second), e.UpdatedAt)
}
