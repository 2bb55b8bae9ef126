package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/store"
)

// Conflicts lists conflicts in the given status; empty means all.
func (c *Coordinator) Conflicts(ctx context.Context, status conflict.Status) ([]conflict.Record, error) {
	return c.store.ListConflicts(ctx, status)
}

// Conflict returns one conflict.
func (c *Coordinator) Conflict(ctx context.Context, id string) (conflict.Record, error) {
	return c.store.GetConflict(ctx, id)
}

// Audit lists the resolutions recorded for a conflict; empty means all.
func (c *Coordinator) Audit(ctx context.Context, conflictID string) ([]conflict.AuditEntry, error) {
	return c.store.ListAudit(ctx, conflictID)
}

// Rules lists the configured resolution rules.
func (c *Coordinator) Rules(ctx context.Context) ([]conflict.Rule, error) {
	return c.store.ListRules(ctx)
}

// SetRules replaces every resolution rule.
func (c *Coordinator) SetRules(ctx context.Context, rules []conflict.Rule, actor auth.Actor) error {
	if err := auth.RequireAdmin(actor, "configure resolution rules"); err != nil {
		return err
	}
	for _, r := range rules {
		if err := conflict.ValidateRule(r); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return c.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.DeleteRules(ctx); err != nil {
			return err
		}
		for _, r := range rules {
			if err := q.PutRule(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResolveConflict closes a pending conflict.
//
//   - use_local re-queues the local change on top of the remote copy.
//   - use_remote completes the entry and overwrites the local copy.
//   - merge re-queues merged as the change and writes it locally.
//   - ignore completes the entry and leaves the local copy alone.
//
// Re-queued changes are pushed at once when the remote is reachable.
// Only managers and admins may resolve.
func (c *Coordinator) ResolveConflict(ctx context.Context, id string, res conflict.Resolution, merged json.RawMessage, reason string, actor auth.Actor) (conflict.Record, error) {
	if err := auth.RequireManager(actor, "resolve conflicts"); err != nil {
		return conflict.Record{}, err
	}
	if _, err := conflict.ParseResolution(string(res)); err != nil {
		return conflict.Record{}, err
	}

	rec, err := c.store.GetConflict(ctx, id)
	if err != nil {
		return conflict.Record{}, err
	}
	unlock := c.entities.Lock(entityKey(rec.EntityType, rec.EntityID))
	defer unlock()

	if rec, err = c.store.GetConflict(ctx, id); err != nil {
		return conflict.Record{}, err
	}
	if !rec.Open() {
		return conflict.Record{}, apperr.Validation("status", "conflict %s is already %s", id, rec.Status)
	}
	if res == conflict.Merge {
		h, err := c.handler(rec.EntityType)
		if err != nil {
			return conflict.Record{}, err
		}
		if len(merged) == 0 || string(merged) == "null" {
			return conflict.Record{}, apperr.Validation("mergedData", "is required for merge")
		}
		if err := h.Validate(queue.OpUpdate, rec.EntityID, merged); err != nil {
			return conflict.Record{}, err
		}
	}

	closed, err := c.resolve(ctx, rec, res, merged, actor.EmployeeID, reason)
	if err != nil {
		return conflict.Record{}, err
	}

	if rebases(res) {
		if c.conn.IsConnected() {
			var t tally
			if err := c.drainEntity(ctx, rec.EntityType, rec.EntityID, nil, false, &t); err != nil {
				c.logger.Warn("push after resolution failed", "conflict_id", id, "error", err)
			}
		} else {
			c.signal()
		}
	}
	return closed, nil
}

// resolve applies res to the conflict's entry and the local copy, closes
// the conflict and writes the audit row, all in one transaction. The caller
// holds the entity lock.
func (c *Coordinator) resolve(ctx context.Context, rec conflict.Record, res conflict.Resolution, merged json.RawMessage, actor, reason string) (conflict.Record, error) {
	h, err := c.handler(rec.EntityType)
	if err != nil {
		return conflict.Record{}, err
	}
	now := c.clock.Now()
	closed := rec.Close(res, actor, now)

	err = c.store.WithTx(ctx, func(q *store.Queries) error {
		e, err := q.GetEntry(ctx, rec.QueueEntryID)
		if err != nil {
			return err
		}

		switch res {
		case conflict.UseLocal:
			e = rebase(e, rec.RemoteData, now)
			if err := h.SetStatus(ctx, q, rec.EntityID, attendance.SyncPending); err != nil {
				return err
			}

		case conflict.Merge:
			e.Operation = queue.OpUpdate
			e.Data = merged
			e = rebase(e, rec.RemoteData, now)
			if err := h.Adopt(ctx, q, rec.EntityID, merged, attendance.SyncPending); err != nil {
				return err
			}

		case conflict.UseRemote:
			e = queue.MarkCompleted(e, now)
			if err := q.UpdateEntry(ctx, e); err != nil {
				return err
			}
			status := attendance.SyncSynced
			if more, err := q.HasUnfinished(ctx, rec.EntityType, rec.EntityID); err != nil {
				return err
			} else if more {
				status = attendance.SyncPending
			}
			if err := h.Adopt(ctx, q, rec.EntityID, rec.RemoteData, status); err != nil {
				return err
			}

		case conflict.Ignore:
			e = queue.MarkCompleted(e, now)
		}

		if err := q.UpdateEntry(ctx, e); err != nil {
			return err
		}
		if err := q.CloseConflict(ctx, closed); err != nil {
			return err
		}
		return q.InsertAudit(ctx, conflict.AuditEntry{
			ID:         c.ids.NewID(),
			ConflictID: rec.ID,
			Resolution: res,
			Actor:      actor,
			Reason:     reason,
			Timestamp:  now,
		})
	})
	if err != nil {
		return conflict.Record{}, fmt.Errorf("resolve conflict %s: %w", rec.ID, err)
	}
	c.logger.Info("conflict resolved",
		"conflict_id", rec.ID,
		"entity_type", rec.EntityType,
		"entity_id", rec.EntityID,
		"resolution", res,
		"actor", actor,
	)
	return closed, nil
}

// resolveByRules applies the first matching enabled rule. resolved is false
// when no rule matches.
func (c *Coordinator) resolveByRules(ctx context.Context, rec conflict.Record) (res conflict.Resolution, resolved bool, err error) {
	rules, err := c.store.ListRules(ctx)
	if err != nil {
		return "", false, err
	}
	rule, ok := conflict.MatchRule(rules, rec.EntityType, rec.ConflictType)
	if !ok {
		return "", false, nil
	}

	local, err := conflict.ParseSnapshot(rec.LocalData)
	if err != nil {
		return "", false, nil
	}
	remote, err := conflict.ParseSnapshot(rec.RemoteData)
	if err != nil {
		return "", false, nil
	}
	res, err = conflict.Decide(rule.Strategy, local, remote)
	if err != nil {
		c.logger.Warn("resolution rule unusable", "rule_id", rule.ID, "error", err)
		return "", false, nil
	}

	if _, err := c.resolve(ctx, rec, res, nil, conflict.RuleActor, "rule "+rule.ID); err != nil {
		return "", false, err
	}
	return res, true, nil
}

// rebase puts a parked entry back in the queue on top of the remote copy
// captured with its conflict, with a fresh retry budget.
func rebase(e queue.Entry, remote json.RawMessage, now time.Time) queue.Entry {
	e = queue.Reset(e, now)
	e.Base = remote
	e.ConflictID = ""
	return e
}

// rebases reports whether res sends the entry back through the queue.
func rebases(res conflict.Resolution) bool {
	return res == conflict.UseLocal || res == conflict.Merge
}
