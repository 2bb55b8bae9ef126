package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/store"
	"github.com/roach88/shiftsync/internal/syncer"
)

// CategoryOutcome is a category write together with its sync result.
type CategoryOutcome struct {
	Category category.TimeCategory `json:"category"`
	Sync     syncer.SubmitResult   `json:"sync"`
}

// Categories lists the local category cache. activeOnly drops deactivated
// categories.
func (s *Service) Categories(ctx context.Context, activeOnly bool) ([]category.TimeCategory, error) {
	return s.store.ListCategories(ctx, activeOnly)
}

// SaveCategory creates or updates a category. An empty ID creates a new
// one. Saved categories are always active; a range that overlaps another
// active category fails with CATEGORY_CONFLICT and nothing is written.
func (s *Service) SaveCategory(ctx context.Context, c category.TimeCategory, actor auth.Actor) (CategoryOutcome, error) {
	if err := auth.RequireAdmin(actor, "save category"); err != nil {
		return CategoryOutcome{}, err
	}
	c.Name = strings.TrimSpace(c.Name)
	c.IsActive = true
	c.LastSyncAt = nil
	if err := category.Validate(c); err != nil {
		return CategoryOutcome{}, err
	}

	unlock := s.categories.Lock(category.EntityType)
	var entry queue.Entry
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		now := s.clock.Now()
		op := queue.OpCreate
		var base *category.TimeCategory

		if c.ID == "" {
			c.ID = s.ids.NewID()
			c.CreatedAt = now
		} else {
			existing, err := q.GetCategory(ctx, c.ID)
			switch {
			case err == nil && existing.IsActive:
				op = queue.OpUpdate
				base = &existing
				c.CreatedAt = existing.CreatedAt
				c.LastSyncAt = existing.LastSyncAt
			case err == nil:
				// Reactivation. The remote reads a deactivated category
				// as absent, so it goes out as a create.
				c.CreatedAt = existing.CreatedAt
			case apperr.Is(err, apperr.CodeNotFound):
				c.CreatedAt = now
			default:
				return err
			}
		}
		c.UpdatedAt = now

		active, err := q.ListCategories(ctx, true)
		if err != nil {
			return err
		}
		if err := category.ValidateNoConflicts(c, active, c.ID); err != nil {
			return err
		}
		if err := q.PutCategory(ctx, c); err != nil {
			return err
		}
		entry, err = s.stageCategory(ctx, q, op, &c, base)
		return err
	})
	unlock()
	if err != nil {
		return CategoryOutcome{}, fmt.Errorf("save category: %w", err)
	}

	s.logger.Info("category saved", "category_id", c.ID, "range", c.Range())
	return s.flushCategory(ctx, c.ID, entry)
}

// DeactivateCategory retires a category. Shifts already pinned to it keep
// it. Deactivating an inactive category is a no-op.
func (s *Service) DeactivateCategory(ctx context.Context, id string, actor auth.Actor) (CategoryOutcome, error) {
	if err := auth.RequireAdmin(actor, "deactivate category"); err != nil {
		return CategoryOutcome{}, err
	}

	unlock := s.categories.Lock(category.EntityType)
	var (
		c     category.TimeCategory
		entry queue.Entry
		noop  bool
	)
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		existing, err := q.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		c = existing
		if !existing.IsActive {
			noop = true
			return nil
		}
		c.IsActive = false
		c.UpdatedAt = s.clock.Now()
		if err := q.PutCategory(ctx, c); err != nil {
			return err
		}
		entry, err = s.stageCategory(ctx, q, queue.OpDelete, nil, &existing)
		return err
	})
	unlock()
	if err != nil {
		return CategoryOutcome{}, fmt.Errorf("deactivate category: %w", err)
	}
	if noop {
		return CategoryOutcome{Category: c}, nil
	}

	s.logger.Info("category deactivated", "category_id", id)
	return s.flushCategory(ctx, id, entry)
}

// PreviewPay prices hours against the active categories.
func (s *Service) PreviewPay(ctx context.Context, hours, baseRate float64) (category.Preview, error) {
	cats, err := s.store.ListCategories(ctx, true)
	if err != nil {
		return category.Preview{}, err
	}
	return category.PreviewPay(hours, baseRate, cats)
}

// CategoryConflicts reports every overlapping pair of active categories.
func (s *Service) CategoryConflicts(ctx context.Context) ([]category.Overlap, error) {
	cats, err := s.store.ListCategories(ctx, true)
	if err != nil {
		return nil, err
	}
	return category.DetectConflicts(cats), nil
}

func (s *Service) stageCategory(ctx context.Context, q *store.Queries, op queue.Operation, c, base *category.TimeCategory) (queue.Entry, error) {
	ch := syncer.Change{Operation: op, EntityType: category.EntityType}
	var err error
	if c != nil {
		ch.EntityID = c.ID
		if ch.Data, err = json.Marshal(c); err != nil {
			return queue.Entry{}, fmt.Errorf("encode category: %w", err)
		}
	}
	if base != nil {
		ch.EntityID = base.ID
		if ch.Base, err = json.Marshal(base); err != nil {
			return queue.Entry{}, fmt.Errorf("encode base: %w", err)
		}
	}
	return s.sync.Stage(ctx, q, ch)
}

func (s *Service) flushCategory(ctx context.Context, id string, e queue.Entry) (CategoryOutcome, error) {
	res, err := s.sync.Flush(ctx, e)
	if err != nil {
		s.logger.Warn("flush failed; change stays queued",
			"entry_id", e.ID,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"error", err,
		)
		res = syncer.SubmitResult{Queued: true, Entry: e}
	}
	cur, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return CategoryOutcome{}, err
	}
	return CategoryOutcome{Category: cur, Sync: res}, nil
}
