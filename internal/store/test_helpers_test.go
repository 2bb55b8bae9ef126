package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/attendance"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// openRecord builds an open shift for an employee.
func openRecord(id, employeeID string, clockIn time.Time) attendance.Record {
	return attendance.Record{
		ID:          id,
		EmployeeID:  employeeID,
		ClockInTime: clockIn,
		SyncStatus:  attendance.SyncPending,
		CreatedAt:   clockIn,
		UpdatedAt:   clockIn,
	}
}

func ptr[T any](v T) *T { return &v }
