package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lastSync = time.Date(2025, 3, 3, 17, 5, 0, 0, time.UTC)

func snap(updatedAt string, kv ...any) Snapshot {
	s := Snapshot{"id": "rec-1", "updatedAt": updatedAt}
	for i := 0; i < len(kv); i += 2 {
		s[kv[i].(string)] = kv[i+1]
	}
	return s
}

func TestDetectConflict_IdenticalIsNoConflict(t *testing.T) {
	x := snap("2025-03-03T17:00:00Z", "notes", "hi", "totalHours", 8.0)

	assert.Equal(t, Detection{}, DetectConflict(x, x, nil))
	assert.Equal(t, Detection{}, DetectConflict(x, x, &lastSync))
}

func TestDetectConflict_BothAbsent(t *testing.T) {
	assert.False(t, DetectConflict(nil, nil, nil).HasConflict)
}

func TestDetectConflict_DeletionTakesPriority(t *testing.T) {
	x := snap("2025-03-03T17:00:00Z", "notes", "hi")

	d := DetectConflict(nil, x, nil)
	assert.True(t, d.HasConflict)
	assert.Equal(t, TypeDeletion, d.Type)

	d = DetectConflict(x, nil, &lastSync)
	assert.Equal(t, TypeDeletion, d.Type)
}

func TestDetectConflict_MetadataOnlyIsNoConflict(t *testing.T) {
	local := snap("2025-03-03T17:00:00Z", "notes", "hi", "syncStatus", "pending", "createdAt", "a")
	remote := snap("2025-03-03T18:00:00Z", "notes", "hi", "syncStatus", "synced", "createdAt", "b", "lastSyncAt", "c")

	assert.False(t, DetectConflict(local, remote, &lastSync).HasConflict)
}

func TestDetectConflict_DataWhenOnlyRemoteChanged(t *testing.T) {
	local := snap("2025-03-03T17:00:00Z", "notes", nil)
	remote := snap("2025-03-03T17:10:00Z", "notes", "Remote update")

	d := DetectConflict(local, remote, &lastSync)
	require.True(t, d.HasConflict)
	assert.Equal(t, TypeData, d.Type)
	assert.Equal(t, []string{"notes"}, d.Fields)
}

func TestDetectConflict_TimestampWhenBothChanged(t *testing.T) {
	local := snap("2025-03-03T17:20:00Z", "notes", "local", "totalHours", 8.0)
	remote := snap("2025-03-03T17:10:00Z", "notes", "remote", "totalHours", 7.5)

	d := DetectConflict(local, remote, &lastSync)
	require.True(t, d.HasConflict)
	assert.Equal(t, TypeTimestamp, d.Type)
	assert.Equal(t, []string{"notes", "totalHours"}, d.Fields)
}

func TestDetectConflict_NoLastSyncIsTimestamp(t *testing.T) {
	local := snap("2025-03-03T09:00:00Z", "notes", "a")
	remote := snap("2025-03-03T09:00:00Z", "notes", "b")

	assert.Equal(t, TypeTimestamp, DetectConflict(local, remote, nil).Type)
}

func TestDiff_Normalization(t *testing.T) {
	a := Snapshot{"notes": "cafe\u0301", "clockOutTime": "2025-03-03T17:00:00Z", "missing": nil}
	b := Snapshot{"notes": "caf\u00e9", "clockOutTime": "2025-03-03T18:00:00+01:00"}

	assert.Empty(t, Diff(a, b))
	assert.True(t, Equal(a, b))
}

func TestDiff_NestedValues(t *testing.T) {
	a := Snapshot{"tags": []any{"x", "y"}, "meta": map[string]any{"k": 1.0}}
	b := Snapshot{"tags": []any{"x"}, "meta": map[string]any{"k": 2.0}}

	assert.Equal(t, []string{"meta", "tags"}, Diff(a, b))
}

func TestSnapshotOf(t *testing.T) {
	type rec struct {
		ID    string  `json:"id"`
		Notes *string `json:"notes"`
	}
	s, err := SnapshotOf(rec{ID: "r"})
	require.NoError(t, err)
	assert.Equal(t, Snapshot{"id": "r", "notes": nil}, s)

	s, err = ParseSnapshot(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = ParseSnapshot([]byte("{"))
	assert.Error(t, err)
}
