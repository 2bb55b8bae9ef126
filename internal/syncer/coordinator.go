// Package syncer drains the write-ahead queue into the authoritative copy.
//
// Local writes never wait for the network. The tracker commits a change and
// its queue entry in one transaction, then asks the Coordinator to flush
// that entity. Online, the entry is applied at once; offline, or when the
// entity already has queued work ahead of it, the entry waits for the next
// drain. Every entry carries the entity as the device knew it before the
// change (its base), so a drain can tell a fast-forward from a conflict.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/clock"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/ids"
	"github.com/roach88/shiftsync/internal/keylock"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/store"
)

// ErrSyncInProgress is returned by Trigger while another drain runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrOffline is returned by Trigger when the remote is unreachable.
var ErrOffline = errors.New("remote unreachable")

const (
	// DefaultBatchSize caps the entries one drain applies.
	DefaultBatchSize = 10

	// DefaultConcurrency is the number of entities drained in parallel.
	DefaultConcurrency = 4
)

// Last-drain outcomes recorded in sync state.
const (
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusError          = "error"
)

// Coordinator owns the queue drain, conflict resolution and sync status.
//
// Thread-safety model:
//   - Every exported method is safe for concurrent use.
//   - Work on one entity is serialized by a per-entity lock, whether it comes
//     from Flush, Trigger or ResolveConflict.
//   - Trigger is single-flight; a second call returns ErrSyncInProgress.
//   - No remote call is made while a store transaction is open.
type Coordinator struct {
	store    *store.Store
	remote   Remote
	conn     Connectivity
	handlers map[string]handler

	clock  clock.Clock
	ids    ids.Generator
	logger *slog.Logger

	batchSize   int
	concurrency int
	autoResolve bool

	entities keylock.Map
	running  atomic.Bool
	kick     chan struct{} // buffered, size 1
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock sets the time source used for every timestamp the syncer writes.
func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) { c.clock = cl }
}

// WithIDs sets the generator for queue entry, conflict and audit IDs.
func WithIDs(g ids.Generator) Option {
	return func(c *Coordinator) { c.ids = g }
}

// WithBatchSize sets the default number of entries one drain applies.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency sets how many entities a drain works on at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithAutoResolve applies resolution rules to conflicts raised by Flush and
// by the background Run loop.
func WithAutoResolve(on bool) Option {
	return func(c *Coordinator) { c.autoResolve = on }
}

// New creates a Coordinator draining s into remote.
func New(s *store.Store, remote Remote, conn Connectivity, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       s,
		remote:      remote,
		conn:        conn,
		handlers:    defaultHandlers(),
		clock:       clock.System{},
		ids:         ids.UUIDv7{},
		logger:      slog.Default(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		kick:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Change is one local mutation to queue.
type Change struct {
	Operation  queue.Operation
	EntityType string
	EntityID   string
	Data       json.RawMessage

	// Base is the entity before the change. Empty for creates.
	Base json.RawMessage
}

// SubmitResult reports what happened to a submitted change.
type SubmitResult struct {
	// Offline is true when the change was only queued because the remote
	// was unreachable.
	Offline bool `json:"offline"`

	// Queued is true while the entry still waits in the queue.
	Queued bool `json:"queued"`

	SyncStatus attendance.SyncStatus `json:"syncStatus"`
	Entry      queue.Entry           `json:"entry"`
}

// Status summarizes the queue and the last drain.
type Status struct {
	PendingItems    int        `json:"pendingItems"`
	ProcessingItems int        `json:"processingItems"`
	FailedItems     int        `json:"failedItems"`
	OpenConflicts   int        `json:"openConflicts"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
	LastSyncStatus  string     `json:"lastSyncStatus,omitempty"`
	Online          bool       `json:"online"`
}

// Stage validates ch and appends it to the queue using q, so the entry
// commits together with the local write it describes. Call Flush after the
// transaction commits.
func (c *Coordinator) Stage(ctx context.Context, q *store.Queries, ch Change) (queue.Entry, error) {
	h, err := c.handler(ch.EntityType)
	if err != nil {
		return queue.Entry{}, err
	}
	e := queue.NewEntry(c.ids.NewID(), ch.Operation, ch.EntityType, ch.EntityID, ch.Data, ch.Base, c.clock.Now())
	if err := queue.Validate(e); err != nil {
		return queue.Entry{}, err
	}
	if err := h.Validate(e.Operation, e.EntityID, e.Data); err != nil {
		return queue.Entry{}, err
	}
	return q.InsertEntry(ctx, e)
}

// Submit queues ch in its own transaction and flushes it.
func (c *Coordinator) Submit(ctx context.Context, ch Change) (SubmitResult, error) {
	var e queue.Entry
	err := c.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		e, err = c.Stage(ctx, q, ch)
		return err
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return c.Flush(ctx, e)
}

// Flush tries to apply a staged entry right away.
//
// Offline, the entry stays queued for the next drain. Online, the entity's
// drainable entries are applied in order, which includes e unless older
// work for the entity is blocked. A transient failure leaves e queued with
// a backoff; a conflict parks it.
func (c *Coordinator) Flush(ctx context.Context, e queue.Entry) (SubmitResult, error) {
	if !c.conn.IsConnected() {
		c.signal()
		return SubmitResult{Offline: true, Queued: true, SyncStatus: attendance.SyncPending, Entry: e}, nil
	}

	unlock := c.entities.Lock(entityKey(e.EntityType, e.EntityID))
	var t tally
	err := c.drainEntity(ctx, e.EntityType, e.EntityID, nil, c.autoResolve, &t)
	unlock()
	if err != nil {
		return SubmitResult{Queued: true, SyncStatus: attendance.SyncPending, Entry: e}, err
	}

	cur, err := c.store.GetEntry(ctx, e.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	return submitResult(cur, !c.conn.IsConnected()), nil
}

func submitResult(e queue.Entry, offline bool) SubmitResult {
	r := SubmitResult{Offline: offline, Queued: e.Status != queue.StatusCompleted, Entry: e}
	switch {
	case e.Status == queue.StatusCompleted:
		r.SyncStatus = attendance.SyncSynced
	case queue.Parked(e):
		r.SyncStatus = attendance.SyncConflict
	default:
		r.SyncStatus = attendance.SyncPending
	}
	return r
}

// Status reports queue counts and the outcome of the last drain.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	counts, err := c.store.CountEntries(ctx)
	if err != nil {
		return Status{}, err
	}
	open, err := c.store.ListConflicts(ctx, conflict.StatusPending)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		PendingItems:    counts.Pending,
		ProcessingItems: counts.Processing,
		FailedItems:     counts.Failed,
		OpenConflicts:   len(open),
		Online:          c.conn.IsConnected(),
	}

	if v, ok, err := c.store.GetState(ctx, store.StateLastSyncAt); err != nil {
		return Status{}, err
	} else if ok {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			st.LastSyncAt = &t
		}
	}
	if v, ok, err := c.store.GetState(ctx, store.StateLastSyncStatus); err != nil {
		return Status{}, err
	} else if ok {
		st.LastSyncStatus = v
	}
	return st, nil
}

// Entries lists queue entries in the given statuses, FIFO.
func (c *Coordinator) Entries(ctx context.Context, statuses ...queue.Status) ([]queue.Entry, error) {
	return c.store.ListEntries(ctx, statuses...)
}

// FailedItems lists entries that failed for good and need an operator.
func (c *Coordinator) FailedItems(ctx context.Context) ([]queue.Entry, error) {
	failed, err := c.store.ListEntries(ctx, queue.StatusFailed)
	if err != nil {
		return nil, err
	}
	out := failed[:0]
	for _, e := range failed {
		if queue.Terminal(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Requeue gives a terminally failed entry a fresh retry budget.
func (c *Coordinator) Requeue(ctx context.Context, entryID string) (queue.Entry, error) {
	e, err := c.store.GetEntry(ctx, entryID)
	if err != nil {
		return queue.Entry{}, err
	}
	unlock := c.entities.Lock(entityKey(e.EntityType, e.EntityID))
	defer unlock()

	if e, err = c.store.GetEntry(ctx, entryID); err != nil {
		return queue.Entry{}, err
	}
	if !queue.Terminal(e) {
		return queue.Entry{}, apperr.Validation("status", "entry %s is not terminally failed", entryID)
	}
	e = queue.Reset(e, c.clock.Now())
	if err := c.store.UpdateEntry(ctx, e); err != nil {
		return queue.Entry{}, err
	}
	c.logger.Info("entry requeued", "entry_id", e.ID, "entity_type", e.EntityType, "entity_id", e.EntityID)
	c.signal()
	return e, nil
}

// Recover returns entries a crash left in processing to pending.
func (c *Coordinator) Recover(ctx context.Context) (int64, error) {
	n, err := c.store.ResetProcessing(ctx, c.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Warn("recovered interrupted entries", "count", n)
	}
	return n, nil
}

func (c *Coordinator) handler(entityType string) (handler, error) {
	h, ok := c.handlers[entityType]
	if !ok {
		return nil, apperr.Validation("entityType", "unknown entity type %q", entityType)
	}
	return h, nil
}

// signal wakes Run. The buffer of one coalesces repeated signals.
func (c *Coordinator) signal() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func entityKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}
