package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
)

const recordColumns = `id, employee_id, clock_in_time, clock_out_time, total_hours,
	time_category_id, time_category_name, notes, sync_status, created_at, updated_at, last_sync_at`

// InsertRecord writes a new attendance record. A second open record for the
// same employee fails with ALREADY_CLOCKED_IN.
func (q *Queries) InsertRecord(ctx context.Context, r attendance.Record) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, recordArgs(r)...)
	if err != nil {
		return recordWriteError("insert record", r, err)
	}
	return nil
}

// UpdateRecord overwrites every column of an existing record.
func (q *Queries) UpdateRecord(ctx context.Context, r attendance.Record) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE attendance_records SET
			employee_id = ?, clock_in_time = ?, clock_out_time = ?, total_hours = ?,
			time_category_id = ?, time_category_name = ?, notes = ?, sync_status = ?,
			created_at = ?, updated_at = ?, last_sync_at = ?
		WHERE id = ?
	`, append(recordArgs(r)[1:], r.ID)...)
	if err != nil {
		return recordWriteError("update record", r, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("attendance record", r.ID)
	}
	return nil
}

// PutRecord inserts or replaces a record by ID.
func (q *Queries) PutRecord(ctx context.Context, r attendance.Record) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			clock_in_time = excluded.clock_in_time,
			clock_out_time = excluded.clock_out_time,
			total_hours = excluded.total_hours,
			time_category_id = excluded.time_category_id,
			time_category_name = excluded.time_category_name,
			notes = excluded.notes,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_sync_at = excluded.last_sync_at
	`, recordArgs(r)...)
	if err != nil {
		return recordWriteError("put record", r, err)
	}
	return nil
}

// SetRecordSync updates only the sync bookkeeping of a record.
// A nil lastSyncAt keeps the stored value.
func (q *Queries) SetRecordSync(ctx context.Context, id string, status attendance.SyncStatus, lastSyncAt *time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET sync_status = ?, last_sync_at = COALESCE(?, last_sync_at)
		WHERE id = ?
	`, string(status), formatTimePtr(lastSyncAt), id)
	if err != nil {
		return fmt.Errorf("set record sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("attendance record", id)
	}
	return nil
}

// GetRecord returns one record by ID.
func (q *Queries) GetRecord(ctx context.Context, id string) (attendance.Record, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Record{}, apperr.NotFound("attendance record", id)
	}
	return r, err
}

// OpenRecord returns the employee's most recent record without a clock-out,
// or nil when the employee is not on shift.
func (q *Queries) OpenRecord(ctx context.Context, employeeID string) (*attendance.Record, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE employee_id = ? AND clock_out_time IS NULL
		ORDER BY clock_in_time DESC, id DESC
		LIMIT 1
	`, employeeID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRecords returns records ordered by clock-in time. An empty employeeID
// lists everyone.
func (q *Queries) ListRecords(ctx context.Context, employeeID string) ([]attendance.Record, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE ? = '' OR employee_id = ?
		ORDER BY clock_in_time ASC, id ASC
	`, employeeID, employeeID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []attendance.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// InsertAdjustment appends one manual-adjustment audit row.
func (q *Queries) InsertAdjustment(ctx context.Context, a attendance.Adjustment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO time_adjustments
		(id, record_id, adjusted_by, field, original_value, new_value, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.RecordID,
		a.AdjustedBy,
		string(a.Field),
		a.OriginalValue,
		a.NewValue,
		a.Reason,
		formatTime(a.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

// ListAdjustments returns a record's adjustment history, oldest first.
func (q *Queries) ListAdjustments(ctx context.Context, recordID string) ([]attendance.Adjustment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, record_id, adjusted_by, field, original_value, new_value, reason, timestamp
		FROM time_adjustments
		WHERE record_id = ?
		ORDER BY timestamp ASC, id ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	out := []attendance.Adjustment{}
	for rows.Next() {
		var (
			a     attendance.Adjustment
			field string
			ts    string
		)
		if err := rows.Scan(&a.ID, &a.RecordID, &a.AdjustedBy, &field, &a.OriginalValue, &a.NewValue, &a.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		a.Field = attendance.Field(field)
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustments: %w", err)
	}
	return out, nil
}

func recordArgs(r attendance.Record) []any {
	return []any{
		r.ID,
		r.EmployeeID,
		formatTime(r.ClockInTime),
		formatTimePtr(r.ClockOutTime),
		nullFloat(r.TotalHours),
		nullString(r.TimeCategoryID),
		nullString(r.TimeCategoryName),
		nullString(r.Notes),
		string(r.SyncStatus),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		formatTimePtr(r.LastSyncAt),
	}
}

func recordWriteError(op string, r attendance.Record, err error) error {
	if isUniqueViolation(err) {
		return apperr.AlreadyClockedIn(r.EmployeeID, "")
	}
	if isPrimaryKeyViolation(err) {
		return apperr.Duplicate("attendance record", r.ID)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanRecord(s scanner) (attendance.Record, error) {
	var (
		r                    attendance.Record
		clockIn              string
		clockOut, lastSync   sql.NullString
		catID, catName, note sql.NullString
		total                sql.NullFloat64
		status               string
		createdAt, updatedAt string
	)
	err := s.Scan(&r.ID, &r.EmployeeID, &clockIn, &clockOut, &total,
		&catID, &catName, &note, &status, &createdAt, &updatedAt, &lastSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan record: %w", err)
	}

	if r.ClockInTime, err = parseTime(clockIn); err != nil {
		return r, err
	}
	if r.ClockOutTime, err = parseTimePtr(clockOut); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	if r.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
		return r, err
	}
	r.TotalHours = floatPtr(total)
	r.TimeCategoryID = stringPtr(catID)
	r.TimeCategoryName = stringPtr(catName)
	r.Notes = stringPtr(note)
	r.SyncStatus = attendance.SyncStatus(status)
	return r, nil
}
