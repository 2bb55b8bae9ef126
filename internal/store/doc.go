// Package store provides SQLite-backed durable storage for shiftsync.
//
// The same schema serves both sides of the star topology:
//   - A client device keeps its local attendance records, the time-category
//     cache, the write-ahead sync queue, conflict records with their audit
//     trail, auto-resolution rules and sync bookkeeping.
//   - The authoritative server keeps the canonical attendance records and
//     time categories.
//
// # Patterns
//
// Deterministic reads: every list query has a total ORDER BY, ending in id
// or seq, so results do not depend on insertion order.
//
// Constraint mapping: SQLite unique violations surface as coded apperr
// errors. The partial index on open shifts yields ALREADY_CLOCKED_IN, other
// unique keys yield DUPLICATE.
//
// Time: timestamps are stored as fixed-width UTC text and compare correctly
// as strings.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
