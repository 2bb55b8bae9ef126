// Package attendance implements the clock-in/clock-out state machine.
//
// Per employee the machine cycles NOT_CLOCKED_IN -> CLOCKED_IN -> NOT_CLOCKED_IN,
// one cycle per shift. The functions in this package are pure: the caller
// supplies the employee's current open record (if any), the instant the
// operation happens at and the current time. Serializing calls per employee
// and persisting the results is the tracker's job.
package attendance

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// EntityType is the sync dispatch key for attendance records.
const EntityType = "attendance_record"

// SyncStatus tracks whether a record has reached the authoritative copy.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncConflict:
		return true
	}
	return false
}

// Record is one shift. ClockOutTime is nil while the shift is open.
//
// TotalHours and TimeCategoryID are derived at clock-out (or when a manager
// moves a boundary) and never recomputed when category configuration changes
// later.
type Record struct {
	ID               string     `json:"id"`
	EmployeeID       string     `json:"employeeId"`
	ClockInTime      time.Time  `json:"clockInTime"`
	ClockOutTime     *time.Time `json:"clockOutTime"`
	TotalHours       *float64   `json:"totalHours"`
	TimeCategoryID   *string    `json:"timeCategoryId"`
	TimeCategoryName *string    `json:"timeCategoryName"`
	Notes            *string    `json:"notes"`
	SyncStatus       SyncStatus `json:"syncStatus"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastSyncAt       *time.Time `json:"lastSyncAt,omitempty"`
}

// IsOpen reports whether the shift has not been clocked out yet.
func (r Record) IsOpen() bool {
	return r.ClockOutTime == nil
}

// Shift is the answer to "is this employee on shift right now".
type Shift struct {
	IsActive     bool     `json:"isActive"`
	Record       *Record  `json:"record,omitempty"`
	ElapsedHours *float64 `json:"elapsedHours,omitempty"`
}

// NormalizeNotes trims and NFC-normalizes free text so that visually equal
// notes compare equal across devices. Blank notes become nil.
func NormalizeNotes(s *string) *string {
	if s == nil {
		return nil
	}
	v := norm.NFC.String(strings.TrimSpace(*s))
	if v == "" {
		return nil
	}
	return &v
}
