package syncer

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/roach88/shiftsync/internal/category"
)

// Remote is the authoritative copy a device syncs against.
//
// Get returns nil data and no error when the entity does not exist. Put
// returns the entity as stored, with lastSyncAt stamped by the remote.
// Errors are classified by their apperr code: validation-class codes fail an
// entry for good, anything else is retried.
type Remote interface {
	Get(ctx context.Context, entityType, id string) (json.RawMessage, error)
	Put(ctx context.Context, entityType, id string, data json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, entityType, id string) error
	ListCategories(ctx context.Context) ([]category.TimeCategory, error)
}

// Connectivity reports whether the remote is reachable right now.
type Connectivity interface {
	IsConnected() bool
}

// Toggle is a Connectivity flipped by hand. The zero value is offline.
type Toggle struct {
	on atomic.Bool
}

// NewToggle returns a Toggle in the given state.
func NewToggle(online bool) *Toggle {
	t := &Toggle{}
	t.on.Store(online)
	return t
}

// Set switches connectivity on or off.
func (t *Toggle) Set(online bool) {
	t.on.Store(online)
}

// IsConnected implements Connectivity.
func (t *Toggle) IsConnected() bool {
	return t.on.Load()
}
