package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/category"
)

func TestRecords_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := openRecord("rec-1", "emp-1", t0)
	rec.Notes = ptr("early")
	require.NoError(t, s.InsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	out := t0.Add(8 * time.Hour)
	rec.ClockOutTime = &out
	rec.TotalHours = ptr(8.0)
	rec.TimeCategoryID = ptr("full")
	rec.TimeCategoryName = ptr("Full")
	rec.UpdatedAt = out
	require.NoError(t, s.UpdateRecord(ctx, rec))

	got, err = s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRecords_SecondOpenShiftRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRecord(ctx, openRecord("rec-1", "emp-1", t0)))

	err := s.InsertRecord(ctx, openRecord("rec-2", "emp-1", t0.Add(time.Minute)))
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyClockedIn), "got %v", err)

	// Another employee is unaffected.
	assert.NoError(t, s.InsertRecord(ctx, openRecord("rec-3", "emp-2", t0)))
}

func TestRecords_ClosedShiftsDoNotBlock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := openRecord("rec-1", "emp-1", t0)
	out := t0.Add(time.Hour)
	first.ClockOutTime = &out
	first.TotalHours = ptr(1.0)
	require.NoError(t, s.InsertRecord(ctx, first))

	require.NoError(t, s.InsertRecord(ctx, openRecord("rec-2", "emp-1", t0.Add(2*time.Hour))))

	open, err := s.OpenRecord(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "rec-2", open.ID)
}

func TestRecords_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := openRecord("rec-1", "emp-1", t0)
	out := t0.Add(time.Hour)
	rec.ClockOutTime = &out
	require.NoError(t, s.InsertRecord(ctx, rec))

	err := s.InsertRecord(ctx, rec)
	assert.True(t, apperr.Is(err, apperr.CodeDuplicate), "got %v", err)
}

func TestRecords_PutIsUpsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := openRecord("rec-1", "emp-1", t0)
	require.NoError(t, s.PutRecord(ctx, rec))
	rec.Notes = ptr("second write")
	require.NoError(t, s.PutRecord(ctx, rec))

	all, err := s.ListRecords(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "second write", *all[0].Notes)
}

func TestRecords_SetSync(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, openRecord("rec-1", "emp-1", t0)))

	synced := t0.Add(time.Hour)
	require.NoError(t, s.SetRecordSync(ctx, "rec-1", attendance.SyncSynced, &synced))
	require.NoError(t, s.SetRecordSync(ctx, "rec-1", attendance.SyncConflict, nil))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, attendance.SyncConflict, got.SyncStatus)
	require.NotNil(t, got.LastSyncAt)
	assert.Equal(t, synced, *got.LastSyncAt)

	err = s.SetRecordSync(ctx, "missing", attendance.SyncSynced, nil)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestRecords_ListFiltersByEmployee(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, openRecord("b", "emp-1", t0.Add(time.Hour))))
	require.NoError(t, s.InsertRecord(ctx, openRecord("a", "emp-2", t0)))

	mine, err := s.ListRecords(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "b", mine[0].ID)

	all, err := s.ListRecords(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID, "ordered by clock-in time")
}

func TestAdjustments_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRecord(ctx, openRecord("rec-1", "emp-1", t0)))

	adj := attendance.Adjustment{
		ID: "adj-1", RecordID: "rec-1", AdjustedBy: "mgr-1", Field: attendance.FieldNotes,
		OriginalValue: "", NewValue: "fixed", Reason: "typo", Timestamp: t0.Add(time.Hour),
	}
	require.NoError(t, s.InsertAdjustment(ctx, adj))

	got, err := s.ListAdjustments(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, []attendance.Adjustment{adj}, got)
}

func TestEmployees(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := attendance.Employee{ID: "emp-1", Number: "E001", Name: "Ana", Role: "employee", IsActive: true, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.InsertEmployee(ctx, e))

	dup := e
	dup.ID = "emp-2"
	err := s.InsertEmployee(ctx, dup)
	assert.True(t, apperr.Is(err, apperr.CodeDuplicate), "got %v", err)

	got, err := s.GetEmployeeByNumber(ctx, "E001")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = s.GetEmployee(ctx, "nobody")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCategories(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	full := category.TimeCategory{ID: "full", Name: "Full", MinHours: 8, PayMultiplier: 1.5, IsActive: true, CreatedAt: t0, UpdatedAt: t0}
	half := category.TimeCategory{ID: "half", Name: "Half", MinHours: 4, MaxHours: ptr(8.0), PayMultiplier: 1, IsActive: true, CreatedAt: t0, UpdatedAt: t0}
	old := category.TimeCategory{ID: "old", Name: "Old", MinHours: 0, MaxHours: ptr(2.0), PayMultiplier: 1, CreatedAt: t0, UpdatedAt: t0}
	for _, c := range []category.TimeCategory{full, half, old} {
		require.NoError(t, s.PutCategory(ctx, c))
	}

	active, err := s.ListCategories(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, half, active[0])
	assert.Equal(t, full, active[1])

	all, err := s.ListCategories(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.GetCategory(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}
