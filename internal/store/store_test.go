package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	tables := []string{
		"employees", "time_categories", "attendance_records", "time_adjustments",
		"sync_queue", "sync_conflicts", "conflict_audit", "resolution_rules", "sync_state",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after reopen", table)
	}

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(q *Queries) error {
		return q.SetState(ctx, StateLastSyncStatus, "success")
	})
	require.NoError(t, err)

	v, ok, err := s.GetState(ctx, StateLastSyncStatus)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "success", v)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q *Queries) error {
		if err := q.InsertRecord(ctx, openRecord("rec-1", "emp-1", t0)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	open, err := s.OpenRecord(ctx, "emp-1")
	require.NoError(t, err)
	assert.Nil(t, open, "insert must not survive rollback")
}

func TestState_Missing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.GetState(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
