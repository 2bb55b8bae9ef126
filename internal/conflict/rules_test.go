package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/apperr"
)

func TestMatchRule_PriorityAscendingFirstWins(t *testing.T) {
	rules := []Rule{
		{ID: "catch-all", EntityType: Wildcard, ConflictType: Wildcard, Strategy: StrategyUseRemote, Priority: 100, Enabled: true},
		{ID: "notes", EntityType: "attendance_record", ConflictType: "data", Strategy: StrategyUseLocal, Priority: 10, Enabled: true},
		{ID: "disabled", EntityType: "attendance_record", ConflictType: "data", Strategy: StrategyIgnore, Priority: 1, Enabled: false},
	}

	r, ok := MatchRule(rules, "attendance_record", TypeData)
	require.True(t, ok)
	assert.Equal(t, "notes", r.ID)

	r, ok = MatchRule(rules, "time_category", TypeTimestamp)
	require.True(t, ok)
	assert.Equal(t, "catch-all", r.ID)

	_, ok = MatchRule(rules[1:], "time_category", TypeData)
	assert.False(t, ok)
}

func TestDecide(t *testing.T) {
	older := Snapshot{"updatedAt": "2025-03-03T17:00:00Z"}
	newer := Snapshot{"updatedAt": "2025-03-03T18:00:00Z"}

	tests := []struct {
		name          string
		strategy      Strategy
		local, remote Snapshot
		want          Resolution
	}{
		{"use_local", StrategyUseLocal, older, newer, UseLocal},
		{"use_remote", StrategyUseRemote, newer, older, UseRemote},
		{"ignore", StrategyIgnore, older, newer, Ignore},
		{"latest local", StrategyUseLatest, newer, older, UseLocal},
		{"latest remote", StrategyUseLatest, older, newer, UseRemote},
		{"latest tie", StrategyUseLatest, older, older, UseRemote},
		{"latest deletion", StrategyUseLatest, nil, newer, UseRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.strategy, tt.local, tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Decide("coin_flip", older, newer)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestValidateRule(t *testing.T) {
	ok := Rule{EntityType: Wildcard, ConflictType: "data", Strategy: StrategyUseLatest}
	assert.NoError(t, ValidateRule(ok))

	bad := ok
	bad.ConflictType = "merge"
	assert.Error(t, ValidateRule(bad))

	bad = ok
	bad.Strategy = "merge"
	assert.Error(t, ValidateRule(bad))

	bad = ok
	bad.EntityType = ""
	assert.Error(t, ValidateRule(bad))
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("merge")
	require.NoError(t, err)
	assert.Equal(t, Merge, r)

	_, err = ParseResolution("overwrite")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestRecordClose(t *testing.T) {
	now := time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC)
	rec := Record{ID: "c-1", Status: StatusPending}
	require.True(t, rec.Open())

	closed := rec.Close(UseLocal, "mgr-1", now)
	assert.Equal(t, StatusResolved, closed.Status)
	assert.Equal(t, "mgr-1", closed.ResolvedBy)
	assert.Equal(t, now, *closed.ResolvedAt)

	assert.Equal(t, StatusIgnored, rec.Close(Ignore, "mgr-1", now).Status)
}
