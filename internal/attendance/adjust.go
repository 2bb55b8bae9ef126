package attendance

import (
	"strings"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/category"
)

// Field names a manually adjustable attribute of a record.
type Field string

const (
	FieldClockIn  Field = "clockInTime"
	FieldClockOut Field = "clockOutTime"
	FieldNotes    Field = "notes"
)

// ParseField validates a field name coming from a caller.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldClockIn, FieldClockOut, FieldNotes:
		return f, nil
	}
	return "", apperr.Validation("field", "must be one of clockInTime, clockOutTime, notes; got %q", s)
}

// Adjustment is the audit row written for one changed field.
type Adjustment struct {
	ID            string    `json:"id"`
	RecordID      string    `json:"recordId"`
	AdjustedBy    string    `json:"adjustedBy"`
	Field         Field     `json:"field"`
	OriginalValue string    `json:"originalValue"`
	NewValue      string    `json:"newValue"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// AdjustRequest carries the fields to change. Nil pointers are left alone;
// an empty Notes string clears the notes.
type AdjustRequest struct {
	ClockInTime  *time.Time
	ClockOutTime *time.Time
	Notes        *string
	Reason       string
	AdjustedBy   string
}

// SingleField builds a request that changes one field from its text form.
// Times are RFC 3339.
func SingleField(field Field, value, reason, adjustedBy string) (AdjustRequest, error) {
	req := AdjustRequest{Reason: reason, AdjustedBy: adjustedBy}
	switch field {
	case FieldClockIn, FieldClockOut:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return AdjustRequest{}, apperr.Validation(string(field), "must be an RFC 3339 timestamp")
		}
		if field == FieldClockIn {
			req.ClockInTime = &t
		} else {
			req.ClockOutTime = &t
		}
	case FieldNotes:
		req.Notes = &value
	default:
		return AdjustRequest{}, apperr.Validation("field", "unknown field %q", field)
	}
	return req, nil
}

// Adjust applies a manual correction to a completed record.
//
// It returns the updated record and one Adjustment per field whose value
// actually changed. TotalHours and the category are re-derived against
// categories when either boundary moves. newID mints audit row IDs.
func Adjust(rec Record, req AdjustRequest, now time.Time, categories []category.TimeCategory, newID func() string) (Record, []Adjustment, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return Record{}, nil, apperr.Validation("reason", "is required")
	}
	if req.AdjustedBy == "" {
		return Record{}, nil, apperr.Validation("adjustedBy", "is required")
	}
	if rec.IsOpen() {
		return Record{}, nil, apperr.Validation("clockOutTime", "record %s is still open; only completed shifts can be adjusted", rec.ID)
	}

	out := rec
	var changes []Adjustment
	note := func(f Field, before, after string) {
		changes = append(changes, Adjustment{
			ID:            newID(),
			RecordID:      rec.ID,
			AdjustedBy:    req.AdjustedBy,
			Field:         f,
			OriginalValue: before,
			NewValue:      after,
			Reason:        reason,
			Timestamp:     now,
		})
	}

	boundsMoved := false
	if req.ClockInTime != nil {
		t := req.ClockInTime.UTC()
		if t.After(now) {
			return Record{}, nil, apperr.Validation(string(FieldClockIn), "must not be in the future")
		}
		if !t.Equal(rec.ClockInTime) {
			note(FieldClockIn, formatTime(&rec.ClockInTime), formatTime(&t))
			out.ClockInTime = t
			boundsMoved = true
		}
	}
	if req.ClockOutTime != nil {
		t := req.ClockOutTime.UTC()
		if t.After(now) {
			return Record{}, nil, apperr.Validation(string(FieldClockOut), "must not be in the future")
		}
		if !t.Equal(*rec.ClockOutTime) {
			note(FieldClockOut, formatTime(rec.ClockOutTime), formatTime(&t))
			out.ClockOutTime = &t
			boundsMoved = true
		}
	}
	if req.Notes != nil {
		n := NormalizeNotes(req.Notes)
		if deref(n) != deref(rec.Notes) {
			note(FieldNotes, deref(rec.Notes), deref(n))
			out.Notes = n
		}
	}

	if len(changes) == 0 {
		return Record{}, nil, apperr.Validation("field", "no field changed")
	}
	if boundsMoved {
		if err := derive(&out, categories); err != nil {
			return Record{}, nil, err
		}
	}
	out.SyncStatus = SyncPending
	out.UpdatedAt = now
	return out, changes, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
