package attendance

import (
	"math"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/category"
)

// ClockIn opens a shift for employeeID at the given instant.
//
// open is the employee's current open record, or nil. A non-nil open record
// fails with ALREADY_CLOCKED_IN. at must not be after now.
func ClockIn(id, employeeID string, open *Record, at, now time.Time, notes *string) (Record, error) {
	if employeeID == "" {
		return Record{}, apperr.Validation("employeeId", "is required")
	}
	if open != nil {
		return Record{}, apperr.AlreadyClockedIn(employeeID, open.ID)
	}
	if at.After(now) {
		return Record{}, apperr.Validation("clockInTime", "must not be in the future")
	}

	return Record{
		ID:          id,
		EmployeeID:  employeeID,
		ClockInTime: at.UTC(),
		Notes:       NormalizeNotes(notes),
		SyncStatus:  SyncPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ClockOut closes the open shift at the given instant, deriving TotalHours
// and assigning a time category from the categories active right now.
func ClockOut(open *Record, employeeID string, at, now time.Time, categories []category.TimeCategory) (Record, error) {
	if open == nil {
		return Record{}, apperr.NotClockedIn(employeeID)
	}
	if at.After(now) {
		return Record{}, apperr.Validation("clockOutTime", "must not be in the future")
	}

	rec := *open
	out := at.UTC()
	rec.ClockOutTime = &out
	if err := derive(&rec, categories); err != nil {
		return Record{}, err
	}
	rec.SyncStatus = SyncPending
	rec.UpdatedAt = now
	return rec, nil
}

// ElapsedHours is the running length of an open shift, clamped at zero.
func ElapsedHours(open Record, now time.Time) float64 {
	h := round2(now.Sub(open.ClockInTime).Hours())
	if h < 0 {
		return 0
	}
	return h
}

// CurrentShift describes the open shift, if any.
func CurrentShift(open *Record, now time.Time) Shift {
	if open == nil {
		return Shift{}
	}
	rec := *open
	elapsed := ElapsedHours(rec, now)
	return Shift{IsActive: true, Record: &rec, ElapsedHours: &elapsed}
}

// derive recomputes TotalHours and the pinned category from the record's
// boundaries. Requires ClockOutTime to be set.
func derive(rec *Record, categories []category.TimeCategory) error {
	if !rec.ClockOutTime.After(rec.ClockInTime) {
		return apperr.Validation("clockOutTime", "must be after clockInTime")
	}
	total := round2(rec.ClockOutTime.Sub(rec.ClockInTime).Hours())
	if total <= 0 {
		return apperr.Validation("clockOutTime", "shift is shorter than 0.01 hours")
	}
	rec.TotalHours = &total

	rec.TimeCategoryID = nil
	rec.TimeCategoryName = nil
	if c, ok := category.Assign(total, categories); ok {
		id, name := c.ID, c.Name
		rec.TimeCategoryID = &id
		rec.TimeCategoryName = &name
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
