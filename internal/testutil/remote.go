package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/roach88/shiftsync/internal/category"
)

// Remote mirrors the method set the syncer drains into.
type Remote interface {
	Get(ctx context.Context, entityType, id string) (json.RawMessage, error)
	Put(ctx context.Context, entityType, id string, data json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, entityType, id string) error
	ListCategories(ctx context.Context) ([]category.TimeCategory, error)
}

// FlakyRemote wraps a Remote and injects failures into Get, Put and Delete.
//
// Thread-safety: safe for concurrent use.
type FlakyRemote struct {
	next Remote

	mu       sync.Mutex
	failures int
	err      error
	calls    map[string]int
	hook     func(op, entityType, id string)
}

// NewFlakyRemote wraps next. Until FailNext is called every call passes
// through.
func NewFlakyRemote(next Remote) *FlakyRemote {
	return &FlakyRemote{next: next, calls: make(map[string]int)}
}

// FailNext makes the next n calls return err. n < 0 fails every call until
// FailNext(0, nil).
func (f *FlakyRemote) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.err = err
}

// OnCall runs hook before every Get, Put and Delete.
func (f *FlakyRemote) OnCall(hook func(op, entityType, id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

// Calls returns how often op ("get", "put", "delete") was called.
func (f *FlakyRemote) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FlakyRemote) before(op, entityType, id string) error {
	f.mu.Lock()
	f.calls[op]++
	hook := f.hook
	var err error
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		err = f.err
	}
	f.mu.Unlock()

	if hook != nil {
		hook(op, entityType, id)
	}
	return err
}

// Get implements Remote.
func (f *FlakyRemote) Get(ctx context.Context, entityType, id string) (json.RawMessage, error) {
	if err := f.before("get", entityType, id); err != nil {
		return nil, err
	}
	return f.next.Get(ctx, entityType, id)
}

// Put implements Remote.
func (f *FlakyRemote) Put(ctx context.Context, entityType, id string, data json.RawMessage) (json.RawMessage, error) {
	if err := f.before("put", entityType, id); err != nil {
		return nil, err
	}
	return f.next.Put(ctx, entityType, id, data)
}

// Delete implements Remote.
func (f *FlakyRemote) Delete(ctx context.Context, entityType, id string) error {
	if err := f.before("delete", entityType, id); err != nil {
		return err
	}
	return f.next.Delete(ctx, entityType, id)
}

// ListCategories implements Remote. It never fails.
func (f *FlakyRemote) ListCategories(ctx context.Context) ([]category.TimeCategory, error) {
	return f.next.ListCategories(ctx)
}
