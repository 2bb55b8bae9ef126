package conflict

import (
	"encoding/json"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
)

// Status is the lifecycle state of a conflict record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

// Resolution is how a conflict was (or will be) closed.
type Resolution string

const (
	// UseLocal overwrites the authoritative copy with the queued payload.
	UseLocal Resolution = "use_local"

	// UseRemote discards the queued change and adopts the authoritative copy.
	UseRemote Resolution = "use_remote"

	// Merge writes caller-supplied merged data.
	Merge Resolution = "merge"

	// Ignore closes the conflict without touching stored data.
	Ignore Resolution = "ignore"
)

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case UseLocal, UseRemote, Merge, Ignore:
		return r, nil
	}
	return "", apperr.Validation("resolution", "must be use_local, use_remote, merge or ignore; got %q", s)
}

// Record is a detected divergence awaiting or having received a resolution.
type Record struct {
	ID             string          `json:"id"`
	EntityType     string          `json:"entityType"`
	EntityID       string          `json:"entityId"`
	QueueEntryID   string          `json:"queueEntryId"`
	LocalData      json.RawMessage `json:"localData"`
	RemoteData     json.RawMessage `json:"remoteData"`
	ConflictType   Type            `json:"conflictType"`
	ConflictFields []string        `json:"conflictFields"`
	Status         Status          `json:"status"`
	Resolution     Resolution      `json:"resolution,omitempty"`
	ResolvedBy     string          `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Open reports whether the conflict still needs a resolution.
func (r Record) Open() bool {
	return r.Status == StatusPending
}

// Close marks the record resolved (or ignored) by actor.
func (r Record) Close(res Resolution, actor string, now time.Time) Record {
	r.Status = StatusResolved
	if res == Ignore {
		r.Status = StatusIgnored
	}
	r.Resolution = res
	r.ResolvedBy = actor
	r.ResolvedAt = &now
	return r
}

// AuditEntry is appended for every resolution, manual or automatic.
type AuditEntry struct {
	ID         string     `json:"id"`
	ConflictID string     `json:"conflictId"`
	Resolution Resolution `json:"resolution"`
	Actor      string     `json:"actor"`
	Reason     string     `json:"reason"`
	Timestamp  time.Time  `json:"timestamp"`
}
