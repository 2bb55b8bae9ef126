// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/store"
)

// T0 is the reference instant tests start from: Monday 2025-03-03 09:00 UTC.
var T0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

// NewStore opens a fresh store in a temp directory, closed at cleanup.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "shiftsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
