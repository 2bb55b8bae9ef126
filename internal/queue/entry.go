// Package queue models the durable write-ahead queue of deferred mutations.
//
// Each Entry records one create/update/delete against an entity that could
// not be applied to the authoritative copy when it happened. Entries move
// pending -> processing -> completed, or -> failed. A failed entry re-enters
// pending once its backoff elapses, until MaxAttempts is reached. Everything
// in this package is pure; persistence lives in the store and draining in the
// syncer.
package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
)

// MaxAttempts is the number of failed attempts after which an entry stops
// being retried automatically.
const MaxAttempts = 5

// BaseRetryDelay is the wait after the first failure. Each further failure
// doubles it.
const BaseRetryDelay = time.Second

// Operation is the kind of mutation an entry replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the three operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// NeedsData reports whether the operation carries a payload.
func (op Operation) NeedsData() bool {
	return op == OpCreate || op == OpUpdate
}

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one queued mutation.
type Entry struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Operation  Operation       `json:"operation"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Data       json.RawMessage `json:"data,omitempty"`

	// Base is the entity as the client last knew it before this change.
	// Empty for creates.
	Base json.RawMessage `json:"base,omitempty"`

	Attempts int    `json:"attempts"`
	Status   Status `json:"status"`

	// Permanent marks a failure that retrying cannot fix.
	Permanent bool   `json:"permanent,omitempty"`
	LastError string `json:"lastError,omitempty"`

	// ConflictID points at the conflict record raised by this entry. While set
	// and the entry is failed, the entry is parked until the conflict closes.
	ConflictID string `json:"conflictData,omitempty"`

	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastAttempt   *time.Time `json:"lastAttempt,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
}

// NewEntry builds a pending entry with zero attempts.
func NewEntry(id string, op Operation, entityType, entityID string, data, base json.RawMessage, now time.Time) Entry {
	return Entry{
		ID:         id,
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		Base:       base,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks the entry's shape. All problems are reported together.
func Validate(e Entry) error {
	var errs []error
	if !e.Operation.Valid() {
		errs = append(errs, apperr.Validation("operation", "must be create, update or delete; got %q", e.Operation))
	}
	if e.EntityType == "" {
		errs = append(errs, apperr.Validation("entityType", "is required"))
	}
	if e.EntityID == "" {
		errs = append(errs, apperr.Validation("entityId", "is required"))
	}
	if e.Operation.NeedsData() {
		if len(e.Data) == 0 || string(e.Data) == "null" {
			errs = append(errs, apperr.Validation("data", "is required for %s", e.Operation))
		} else if !json.Valid(e.Data) {
			errs = append(errs, apperr.Validation("data", "is not valid JSON"))
		}
	}
	return errors.Join(errs...)
}

// ShouldRetry reports whether a failed entry may be attempted again.
// Parked and permanently failed entries are never retried automatically.
func ShouldRetry(e Entry) bool {
	return e.Status == StatusFailed && e.Attempts < MaxAttempts && !e.Permanent && e.ConflictID == ""
}

// RetryDelay is the backoff before retry number n+1: 1s, 2s, 4s, 8s, 16s...
func RetryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	return BaseRetryDelay << n
}

// Due reports whether a failed entry's backoff has elapsed.
func Due(e Entry, now time.Time) bool {
	if !ShouldRetry(e) {
		return false
	}
	return e.NextAttemptAt == nil || !now.Before(*e.NextAttemptAt)
}

// Parked reports whether the entry waits on a conflict resolution.
func Parked(e Entry) bool {
	return e.Status == StatusFailed && e.ConflictID != ""
}

// Terminal reports whether the entry has failed for good and needs an operator.
func Terminal(e Entry) bool {
	return e.Status == StatusFailed && !Parked(e) && !ShouldRetry(e)
}

// MarkProcessing claims the entry for a drain.
func MarkProcessing(e Entry, now time.Time) Entry {
	e.Status = StatusProcessing
	e.UpdatedAt = now
	return e
}

// MarkCompleted records a successful apply.
func MarkCompleted(e Entry, now time.Time) Entry {
	e.Status = StatusCompleted
	e.UpdatedAt = now
	e.NextAttemptAt = nil
	return e
}

// MarkFailed records a failed attempt. A non-empty conflictID parks the entry
// on that conflict instead of scheduling a retry.
func MarkFailed(e Entry, now time.Time, cause error, conflictID string) Entry {
	e.Status = StatusFailed
	e.Attempts++
	e.UpdatedAt = now
	e.LastAttempt = &now
	e.LastError = errText(cause)
	e.ConflictID = conflictID
	e.NextAttemptAt = nil
	if ShouldRetry(e) {
		next := now.Add(RetryDelay(e.Attempts - 1))
		e.NextAttemptAt = &next
	}
	return e
}

// MarkPermanentlyFailed records a failure that must not be retried.
func MarkPermanentlyFailed(e Entry, now time.Time, cause error) Entry {
	e.Permanent = true
	return MarkFailed(e, now, cause, "")
}

// Requeue returns a failed entry to pending so the next drain picks it up.
func Requeue(e Entry, now time.Time) Entry {
	e.Status = StatusPending
	e.UpdatedAt = now
	e.NextAttemptAt = nil
	return e
}

// Reset gives a terminal entry a fresh retry budget.
func Reset(e Entry, now time.Time) Entry {
	e = Requeue(e, now)
	e.Attempts = 0
	e.Permanent = false
	e.LastError = ""
	return e
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
