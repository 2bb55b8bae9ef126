package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/store"
)

// handler adapts one entity type to the drain. The drain itself only sees
// JSON; the handler knows how the local copy of the entity is stored.
type handler interface {
	// Validate checks a payload before it is queued or applied.
	Validate(op queue.Operation, entityID string, data json.RawMessage) error

	// Settle records that the remote accepted the entity. stored is the
	// remote's copy (nil after a delete). pending is true when later entries
	// for the entity are still queued.
	Settle(ctx context.Context, q *store.Queries, entityID string, stored json.RawMessage, pending bool) error

	// SetStatus changes the local sync status without touching data.
	SetStatus(ctx context.Context, q *store.Queries, entityID string, status attendance.SyncStatus) error

	// Adopt replaces the local copy with data. nil data means the entity is
	// gone on the remote.
	Adopt(ctx context.Context, q *store.Queries, entityID string, data json.RawMessage, status attendance.SyncStatus) error
}

func defaultHandlers() map[string]handler {
	return map[string]handler{
		attendance.EntityType: recordHandler{},
		category.EntityType:   categoryHandler{},
	}
}

type recordHandler struct{}

func (recordHandler) Validate(op queue.Operation, entityID string, data json.RawMessage) error {
	if op == queue.OpDelete {
		return apperr.Validation("operation", "attendance records are never deleted")
	}
	var rec attendance.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return apperr.Validation("data", "not an attendance record: %v", err)
	}
	switch {
	case rec.ID != entityID:
		return apperr.Validation("id", "payload id %q does not match entity %q", rec.ID, entityID)
	case rec.EmployeeID == "":
		return apperr.Validation("employeeId", "is required")
	case rec.ClockInTime.IsZero():
		return apperr.Validation("clockInTime", "is required")
	}
	if rec.ClockOutTime == nil {
		if rec.TotalHours != nil {
			return apperr.Validation("totalHours", "must be empty while the shift is open")
		}
		return nil
	}
	if !rec.ClockOutTime.After(rec.ClockInTime) {
		return apperr.Validation("clockOutTime", "must be after clockInTime")
	}
	if rec.TotalHours == nil || *rec.TotalHours <= 0 {
		return apperr.Validation("totalHours", "must be positive on a completed record")
	}
	return nil
}

func (recordHandler) Settle(ctx context.Context, q *store.Queries, entityID string, stored json.RawMessage, pending bool) error {
	status := attendance.SyncSynced
	if pending {
		status = attendance.SyncPending
	}
	return ignoreMissing(q.SetRecordSync(ctx, entityID, status, syncedAt(stored)))
}

func (recordHandler) SetStatus(ctx context.Context, q *store.Queries, entityID string, status attendance.SyncStatus) error {
	return ignoreMissing(q.SetRecordSync(ctx, entityID, status, nil))
}

func (h recordHandler) Adopt(ctx context.Context, q *store.Queries, entityID string, data json.RawMessage, status attendance.SyncStatus) error {
	if len(data) == 0 || string(data) == "null" {
		return h.SetStatus(ctx, q, entityID, status)
	}
	var rec attendance.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return apperr.Validation("data", "not an attendance record: %v", err)
	}
	rec.SyncStatus = status
	return q.PutRecord(ctx, rec)
}

// categoryHandler keeps no sync status for categories; only lastSyncAt.
type categoryHandler struct{}

func (categoryHandler) Validate(op queue.Operation, entityID string, data json.RawMessage) error {
	if op == queue.OpDelete {
		return nil
	}
	var c category.TimeCategory
	if err := json.Unmarshal(data, &c); err != nil {
		return apperr.Validation("data", "not a time category: %v", err)
	}
	if c.ID != entityID {
		return apperr.Validation("id", "payload id %q does not match entity %q", c.ID, entityID)
	}
	return category.Validate(c)
}

func (categoryHandler) Settle(ctx context.Context, q *store.Queries, entityID string, stored json.RawMessage, _ bool) error {
	at := syncedAt(stored)
	if at == nil {
		return nil
	}
	c, err := q.GetCategory(ctx, entityID)
	if err != nil {
		return ignoreMissing(err)
	}
	c.LastSyncAt = at
	return q.PutCategory(ctx, c)
}

func (categoryHandler) SetStatus(context.Context, *store.Queries, string, attendance.SyncStatus) error {
	return nil
}

func (categoryHandler) Adopt(ctx context.Context, q *store.Queries, entityID string, data json.RawMessage, _ attendance.SyncStatus) error {
	if len(data) == 0 || string(data) == "null" {
		c, err := q.GetCategory(ctx, entityID)
		if err != nil {
			return ignoreMissing(err)
		}
		c.IsActive = false
		return q.PutCategory(ctx, c)
	}
	var c category.TimeCategory
	if err := json.Unmarshal(data, &c); err != nil {
		return apperr.Validation("data", "not a time category: %v", err)
	}
	return q.PutCategory(ctx, c)
}

// syncedAt reads lastSyncAt from the remote's copy.
func syncedAt(stored json.RawMessage) *time.Time {
	snap, err := conflict.ParseSnapshot(stored)
	if err != nil || snap == nil {
		return nil
	}
	t, ok := snap.Time("lastSyncAt")
	if !ok {
		return nil
	}
	return &t
}

// ignoreMissing drops NotFound. A queued entity may have no local row, for
// example when the queue was filled by another process.
func ignoreMissing(err error) error {
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil
	}
	return err
}
