// Package remote holds the authoritative copy of synced entities.
//
// Backend implements it in-process over a store; the HTTP server exposes a
// Backend and Client talks to that server from a device. Both satisfy the
// syncer's Remote interface, so a device drains against either one.
package remote

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/clock"
	"github.com/roach88/shiftsync/internal/store"
)

// Backend is the authoritative copy backed by a store.
//
// Every accepted write is stamped with lastSyncAt. Attendance records are
// never deleted; deleting a category deactivates it and a deactivated
// category reads as absent.
type Backend struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewBackend wraps s. A nil clock uses the system clock.
func NewBackend(s *store.Store, c clock.Clock, logger *slog.Logger) *Backend {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{store: s, clock: c, logger: logger}
}

// Get returns the entity, or nil when it does not exist.
func (b *Backend) Get(ctx context.Context, entityType, id string) (json.RawMessage, error) {
	switch entityType {
	case attendance.EntityType:
		rec, err := b.store.GetRecord(ctx, id)
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(rec)

	case category.EntityType:
		c, err := b.store.GetCategory(ctx, id)
		if apperr.Is(err, apperr.CodeNotFound) || (err == nil && !c.IsActive) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(c)
	}
	return nil, unknownType(entityType)
}

// Put creates or replaces the entity and returns it as stored.
func (b *Backend) Put(ctx context.Context, entityType, id string, data json.RawMessage) (json.RawMessage, error) {
	now := b.clock.Now()
	switch entityType {
	case attendance.EntityType:
		var rec attendance.Record
		if err := decode(data, &rec); err != nil {
			return nil, err
		}
		if rec.ID != id {
			return nil, apperr.Validation("id", "payload id %q does not match %q", rec.ID, id)
		}
		rec.SyncStatus = attendance.SyncSynced
		rec.LastSyncAt = &now
		if err := b.store.PutRecord(ctx, rec); err != nil {
			return nil, err
		}
		b.logger.Debug("record stored", "record_id", rec.ID, "employee_id", rec.EmployeeID)
		return json.Marshal(rec)

	case category.EntityType:
		var c category.TimeCategory
		if err := decode(data, &c); err != nil {
			return nil, err
		}
		if c.ID != id {
			return nil, apperr.Validation("id", "payload id %q does not match %q", c.ID, id)
		}
		if err := category.Validate(c); err != nil {
			return nil, err
		}
		c.LastSyncAt = &now
		err := b.store.WithTx(ctx, func(q *store.Queries) error {
			if c.IsActive {
				existing, err := q.ListCategories(ctx, true)
				if err != nil {
					return err
				}
				if err := category.ValidateNoConflicts(c, existing, c.ID); err != nil {
					return err
				}
			}
			return q.PutCategory(ctx, c)
		})
		if err != nil {
			return nil, err
		}
		b.logger.Debug("category stored", "category_id", c.ID)
		return json.Marshal(c)
	}
	return nil, unknownType(entityType)
}

// Delete removes the entity. Deleting something already gone succeeds.
func (b *Backend) Delete(ctx context.Context, entityType, id string) error {
	switch entityType {
	case attendance.EntityType:
		return apperr.Validation("operation", "attendance records are never deleted")

	case category.EntityType:
		now := b.clock.Now()
		return b.store.WithTx(ctx, func(q *store.Queries) error {
			c, err := q.GetCategory(ctx, id)
			if apperr.Is(err, apperr.CodeNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !c.IsActive {
				return nil
			}
			c.IsActive = false
			c.UpdatedAt = now
			c.LastSyncAt = &now
			return q.PutCategory(ctx, c)
		})
	}
	return unknownType(entityType)
}

// ListCategories returns every category, deactivated ones included, so
// devices learn about deactivations.
func (b *Backend) ListCategories(ctx context.Context) ([]category.TimeCategory, error) {
	return b.store.ListCategories(ctx, false)
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("data", "malformed payload: %v", err)
	}
	return nil
}

func unknownType(entityType string) error {
	return apperr.Validation("entityType", "unknown entity type %q", entityType)
}
