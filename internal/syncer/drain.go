package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/store"
)

// TriggerOptions tune one drain.
type TriggerOptions struct {
	// BatchSize caps the entries applied. <= 0 uses the coordinator default.
	BatchSize int

	// AutoResolve applies resolution rules to conflicts raised in this drain.
	AutoResolve bool
}

// Result counts what one drain did. Failed includes entries that raised a
// conflict and were not auto-resolved.
type Result struct {
	Processed    int `json:"processed"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	Conflicts    int `json:"conflicts"`
	AutoResolved int `json:"autoResolved"`

	// Interrupted is true when connectivity dropped before the drain
	// finished. Entries not reached were left untouched.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Trigger drains the queue once.
//
// Due retries are requeued first. Up to BatchSize pending entries are then
// applied, entities in parallel and each entity strictly in FIFO order,
// stopping at an entity's first failure or conflict. Connectivity is
// checked before every entry; losing it stops the drain and leaves the rest
// of the queue as it was. Categories are refreshed from the remote at the
// end.
func (c *Coordinator) Trigger(ctx context.Context, opts TriggerOptions) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer c.running.Store(false)

	if !c.conn.IsConnected() {
		return Result{}, ErrOffline
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = c.batchSize
	}

	res, err := c.drain(ctx, opts)
	if err == nil && !res.Interrupted {
		c.refreshCategories(ctx)
	}
	c.finish(ctx, res, err)
	return res, err
}

func (c *Coordinator) drain(ctx context.Context, opts TriggerOptions) (Result, error) {
	if err := c.requeueDue(ctx); err != nil {
		return Result{}, err
	}

	entries, err := c.store.UnfinishedEntries(ctx)
	if err != nil {
		return Result{}, err
	}
	batches := queue.Schedule(entries, opts.BatchSize)
	if len(batches) == 0 {
		return Result{}, nil
	}
	c.logger.Debug("drain started", "batches", len(batches), "batch_size", opts.BatchSize)

	var t tally
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, b := range batches {
		b := b // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			only := make(map[string]bool, len(b.Entries))
			for _, e := range b.Entries {
				only[e.ID] = true
			}
			unlock := c.entities.Lock(entityKey(b.EntityType, b.EntityID))
			defer unlock()
			return c.drainEntity(gctx, b.EntityType, b.EntityID, only, opts.AutoResolve, &t)
		})
	}
	err = g.Wait()

	res := t.result()
	c.logger.Info("drain finished",
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"conflicts", res.Conflicts,
		"auto_resolved", res.AutoResolved,
		"interrupted", res.Interrupted,
	)
	return res, err
}

// drainEntity applies the entity's drainable entries in order. The caller
// holds the entity lock. only, when non-nil, limits the run to the entries
// a drain scheduled; anything queued later waits for the next drain.
//
// The returned error is reserved for store failures and cancellation.
// Remote failures are recorded on the entry.
func (c *Coordinator) drainEntity(ctx context.Context, entityType, entityID string, only map[string]bool, auto bool, t *tally) error {
	entries, err := c.store.EntityEntries(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	batches := queue.Schedule(entries, 0)
	if len(batches) == 0 {
		return nil
	}

	for _, e := range batches[0].Entries {
		if only != nil && !only[e.ID] {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.conn.IsConnected() {
			t.interrupt()
			return nil
		}
		ok, err := c.process(ctx, e, auto, t)
		if err != nil || !ok {
			return err
		}
	}
	return nil
}

// process applies one entry and records the outcome. ok is false when the
// entity must not continue in this drain.
func (c *Coordinator) process(ctx context.Context, e queue.Entry, auto bool, t *tally) (ok bool, err error) {
	e = queue.MarkProcessing(e, c.clock.Now())
	if err := c.store.UpdateEntry(ctx, e); err != nil {
		return false, err
	}
	t.add(func(r *Result) { r.Processed++ })

	for retried := false; ; retried = true {
		a := c.attempt(ctx, e)
		if a.err != nil && ctx.Err() != nil {
			// Cancelled mid-call: the attempt does not count.
			e = queue.Requeue(e, c.clock.Now())
			if err := c.store.UpdateEntry(context.WithoutCancel(ctx), e); err != nil {
				return false, err
			}
			t.add(func(r *Result) { r.Processed-- })
			return false, ctx.Err()
		}

		switch a.kind {
		case outcomeApplied:
			if err := c.complete(ctx, e, a.stored); err != nil {
				return false, err
			}
			t.add(func(r *Result) { r.Succeeded++ })
			return true, nil

		case outcomeFailed:
			if err := c.fail(ctx, e, a.err); err != nil {
				return false, err
			}
			t.add(func(r *Result) { r.Failed++ })
			return false, nil

		case outcomeConflict:
			rec, err := c.raise(ctx, e, a)
			if err != nil {
				return false, err
			}
			t.add(func(r *Result) { r.Conflicts++ })
			if !auto || retried {
				t.add(func(r *Result) { r.Failed++ })
				return false, nil
			}

			res, resolved, err := c.resolveByRules(ctx, rec)
			if err != nil {
				return false, err
			}
			if !resolved {
				t.add(func(r *Result) { r.Failed++ })
				return false, nil
			}
			t.add(func(r *Result) { r.AutoResolved++ })
			if !rebases(res) {
				t.add(func(r *Result) { r.Succeeded++ })
				return true, nil
			}

			// Rebased onto the remote copy: try once more in this drain.
			if e, err = c.store.GetEntry(ctx, e.ID); err != nil {
				return false, err
			}
			e = queue.MarkProcessing(e, c.clock.Now())
			if err := c.store.UpdateEntry(ctx, e); err != nil {
				return false, err
			}
		}
	}
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeFailed
	outcomeConflict
)

type attemptResult struct {
	kind      outcome
	stored    json.RawMessage // remote copy after the apply
	remote    json.RawMessage // remote copy that conflicted
	detection conflict.Detection
	err       error
}

// attempt replays one entry against the remote. It performs no local
// writes.
//
// Creates are written blindly. Updates and deletes first read the remote
// copy: if it already matches the change the entry is done; if it still
// equals the entry's base the change fast-forwards; anything else goes to
// conflict detection, using the remote's lastSyncAt as the last sync point.
func (c *Coordinator) attempt(ctx context.Context, e queue.Entry) attemptResult {
	h, err := c.handler(e.EntityType)
	if err != nil {
		return failed(err)
	}
	if err := queue.Validate(e); err != nil {
		return failed(err)
	}
	if err := h.Validate(e.Operation, e.EntityID, e.Data); err != nil {
		return failed(err)
	}

	if e.Operation == queue.OpCreate {
		return c.write(ctx, e)
	}

	remoteRaw, err := c.remote.Get(ctx, e.EntityType, e.EntityID)
	if err != nil {
		return failed(err)
	}
	remote, err := conflict.ParseSnapshot(remoteRaw)
	if err != nil {
		return failed(apperr.Transient("read remote copy", err))
	}
	base, err := conflict.ParseSnapshot(e.Base)
	if err != nil {
		return failed(apperr.Validation("base", "%v", err))
	}
	var local conflict.Snapshot
	if e.Operation == queue.OpUpdate {
		if local, err = conflict.ParseSnapshot(e.Data); err != nil {
			return failed(apperr.Validation("data", "%v", err))
		}
	}

	if conflict.Equal(local, remote) {
		return attemptResult{kind: outcomeApplied, stored: remoteRaw}
	}
	if !conflict.Equal(base, remote) {
		var lastSync *time.Time
		if t, ok := remote.Time("lastSyncAt"); ok {
			lastSync = &t
		}
		if d := conflict.DetectConflict(local, remote, lastSync); d.HasConflict {
			return attemptResult{kind: outcomeConflict, remote: remoteRaw, detection: d}
		}
	}
	return c.write(ctx, e)
}

func (c *Coordinator) write(ctx context.Context, e queue.Entry) attemptResult {
	if e.Operation == queue.OpDelete {
		if err := c.remote.Delete(ctx, e.EntityType, e.EntityID); err != nil {
			return failed(err)
		}
		return attemptResult{kind: outcomeApplied}
	}
	stored, err := c.remote.Put(ctx, e.EntityType, e.EntityID, e.Data)
	if err != nil {
		return failed(err)
	}
	return attemptResult{kind: outcomeApplied, stored: stored}
}

func failed(err error) attemptResult {
	return attemptResult{kind: outcomeFailed, err: err}
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeSyncPermanent,
		apperr.CodeValidation,
		apperr.CodeCategoryConflict,
		apperr.CodeAlreadyClockedIn,
		apperr.CodeNotClockedIn,
		apperr.CodeDuplicate:
		return true
	}
	return false
}

// complete marks the entry done and the local copy synced, unless more
// work for the entity is still queued.
func (c *Coordinator) complete(ctx context.Context, e queue.Entry, stored json.RawMessage) error {
	h, err := c.handler(e.EntityType)
	if err != nil {
		return err
	}
	e = queue.MarkCompleted(e, c.clock.Now())
	err = c.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.UpdateEntry(ctx, e); err != nil {
			return err
		}
		more, err := q.HasUnfinished(ctx, e.EntityType, e.EntityID)
		if err != nil {
			return err
		}
		return h.Settle(ctx, q, e.EntityID, stored, more)
	})
	if err != nil {
		return fmt.Errorf("complete entry %s: %w", e.ID, err)
	}
	c.logger.Debug("entry applied",
		"entry_id", e.ID,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"operation", e.Operation,
	)
	return nil
}

func (c *Coordinator) fail(ctx context.Context, e queue.Entry, cause error) error {
	now := c.clock.Now()
	if permanent(cause) {
		e = queue.MarkPermanentlyFailed(e, now, cause)
	} else {
		e = queue.MarkFailed(e, now, cause, "")
	}
	if err := c.store.UpdateEntry(ctx, e); err != nil {
		return err
	}

	attrs := []any{
		"entry_id", e.ID,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"attempts", e.Attempts,
		"error", cause,
	}
	switch {
	case e.Permanent:
		c.logger.Error("entry failed permanently", attrs...)
	case queue.Terminal(e):
		c.logger.Error("entry exhausted retries", attrs...)
	default:
		c.logger.Warn("entry failed, will retry", append(attrs, "next_attempt_at", e.NextAttemptAt)...)
	}
	return nil
}

// raise records a conflict and parks the entry on it.
func (c *Coordinator) raise(ctx context.Context, e queue.Entry, a attemptResult) (conflict.Record, error) {
	h, err := c.handler(e.EntityType)
	if err != nil {
		return conflict.Record{}, err
	}
	now := c.clock.Now()
	fields := a.detection.Fields
	if fields == nil {
		fields = []string{}
	}
	rec := conflict.Record{
		ID:             c.ids.NewID(),
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		QueueEntryID:   e.ID,
		LocalData:      e.Data,
		RemoteData:     a.remote,
		ConflictType:   a.detection.Type,
		ConflictFields: fields,
		Status:         conflict.StatusPending,
		CreatedAt:      now,
	}
	cause := fmt.Errorf("%s conflict", rec.ConflictType)
	if len(fields) > 0 {
		cause = fmt.Errorf("%s conflict on %s", rec.ConflictType, strings.Join(fields, ", "))
	}
	e = queue.MarkFailed(e, now, cause, rec.ID)

	err = c.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.InsertConflict(ctx, rec); err != nil {
			return err
		}
		if err := q.UpdateEntry(ctx, e); err != nil {
			return err
		}
		return h.SetStatus(ctx, q, e.EntityID, attendance.SyncConflict)
	})
	if err != nil {
		return conflict.Record{}, fmt.Errorf("raise conflict for entry %s: %w", e.ID, err)
	}
	c.logger.Warn("conflict detected",
		"conflict_id", rec.ID,
		"entry_id", e.ID,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"conflict_type", rec.ConflictType,
		"fields", fields,
	)
	return rec, nil
}

// requeueDue moves failed entries whose backoff elapsed back to pending.
func (c *Coordinator) requeueDue(ctx context.Context) error {
	failedEntries, err := c.store.ListEntries(ctx, queue.StatusFailed)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	for _, e := range failedEntries {
		if !queue.Due(e, now) {
			continue
		}
		unlock := c.entities.Lock(entityKey(e.EntityType, e.EntityID))
		err := c.store.UpdateEntry(ctx, queue.Requeue(e, now))
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// refreshCategories pulls the remote's categories. Categories with queued
// local changes keep the local copy.
func (c *Coordinator) refreshCategories(ctx context.Context) {
	cats, err := c.remote.ListCategories(ctx)
	if err != nil {
		c.logger.Warn("category refresh failed", "error", err)
		return
	}
	for _, cat := range cats {
		unlock := c.entities.Lock(entityKey(category.EntityType, cat.ID))
		err := c.refreshCategory(ctx, cat)
		unlock()
		if err != nil {
			c.logger.Warn("category refresh failed", "category_id", cat.ID, "error", err)
			return
		}
	}
}

func (c *Coordinator) refreshCategory(ctx context.Context, cat category.TimeCategory) error {
	return c.store.WithTx(ctx, func(q *store.Queries) error {
		busy, err := q.HasUnfinished(ctx, category.EntityType, cat.ID)
		if err != nil || busy {
			return err
		}
		return q.PutCategory(ctx, cat)
	})
}

// finish records the drain outcome in sync state.
func (c *Coordinator) finish(ctx context.Context, res Result, drainErr error) {
	status := StatusSuccess
	switch {
	case drainErr != nil:
		status = StatusError
	case res.Failed > 0 || res.Interrupted:
		status = StatusError
		if res.Succeeded > 0 {
			status = StatusPartialSuccess
		}
	}
	now := c.clock.Now()
	ctx = context.WithoutCancel(ctx)
	err := c.store.WithTx(ctx, func(q *store.Queries) error {
		if err := q.SetState(ctx, store.StateLastSyncAt, now.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
		return q.SetState(ctx, store.StateLastSyncStatus, status)
	})
	if err != nil {
		c.logger.Error("record sync state", "error", err)
	}
	if drainErr != nil && !errors.Is(drainErr, context.Canceled) {
		c.logger.Error("drain failed", "error", drainErr)
	}
}

// tally accumulates a Result across concurrent batches.
type tally struct {
	mu  sync.Mutex
	res Result
}

func (t *tally) add(f func(*Result)) {
	t.mu.Lock()
	f(&t.res)
	t.mu.Unlock()
}

func (t *tally) interrupt() {
	t.add(func(r *Result) { r.Interrupted = true })
}

func (t *tally) result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res
}
