// Package ids generates identifiers for records, queue entries and audit rows.
package ids

import (
	"crypto/rand"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/roach88/shiftsync/internal/clock"
)

// Generator produces unique string identifiers.
type Generator interface {
	NewID() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7 struct{}

// NewID returns a hyphenated UUIDv7.
// Panics if the random source fails.
func (UUIDv7) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ULID generates lexically sortable ULIDs from a clock.
//
// IDs minted within the same millisecond are strictly increasing (monotonic
// entropy), so queue entries sort in creation order by ID alone.
type ULID struct {
	mu      sync.Mutex
	clock   clock.Clock
	entropy io.Reader
}

// NewULID creates a ULID generator reading time from c.
func NewULID(c clock.Clock) *ULID {
	return &ULID{
		clock:   c,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewID returns the next ULID string.
func (g *ULID) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

func (g *ULID) now() time.Time {
	if g.clock == nil {
		return time.Now()
	}
	return g.clock.Now()
}

// Fixed returns predetermined identifiers, then falls back to prefix-N.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Fixed struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

// NewFixed creates a generator that yields ids in order and then
// "<prefix>-<n>" once they are exhausted.
func NewFixed(prefix string, ids ...string) *Fixed {
	return &Fixed{ids: ids, prefix: prefix}
}

// NewID returns the next predetermined identifier.
func (g *Fixed) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return g.prefix + "-" + strconv.Itoa(g.n)
}
