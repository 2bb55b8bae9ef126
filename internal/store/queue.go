package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/queue"
)

const entryColumns = `seq, id, operation, entity_type, entity_id, data, base, attempts, status,
	permanent, last_error, conflict_id, created_at, updated_at, last_attempt, next_attempt_at`

// QueueCounts is the number of entries per status.
type QueueCounts struct {
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// InsertEntry appends an entry to the queue and returns it with its
// sequence number assigned.
func (q *Queries) InsertEntry(ctx context.Context, e queue.Entry) (queue.Entry, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue
		(id, operation, entity_type, entity_id, data, base, attempts, status,
		 permanent, last_error, conflict_id, created_at, updated_at, last_attempt, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Operation),
		e.EntityType,
		e.EntityID,
		rawJSON(e.Data),
		rawJSON(e.Base),
		e.Attempts,
		string(e.Status),
		boolInt(e.Permanent),
		emptyAsNull(e.LastError),
		emptyAsNull(e.ConflictID),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
		formatTimePtr(e.LastAttempt),
		formatTimePtr(e.NextAttemptAt),
	)
	if isUniqueViolation(err) {
		return queue.Entry{}, apperr.Duplicate("queue entry", e.ID)
	}
	if err != nil {
		return queue.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return queue.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	e.Seq = seq
	return e, nil
}

// UpdateEntry persists an entry's payload and lifecycle fields. Identity,
// entity and creation time never change.
func (q *Queries) UpdateEntry(ctx context.Context, e queue.Entry) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET
			operation = ?, data = ?, base = ?,
			attempts = ?, status = ?, permanent = ?, last_error = ?, conflict_id = ?,
			updated_at = ?, last_attempt = ?, next_attempt_at = ?
		WHERE id = ?
	`,
		string(e.Operation),
		rawJSON(e.Data),
		rawJSON(e.Base),
		e.Attempts,
		string(e.Status),
		boolInt(e.Permanent),
		emptyAsNull(e.LastError),
		emptyAsNull(e.ConflictID),
		formatTime(e.UpdatedAt),
		formatTimePtr(e.LastAttempt),
		formatTimePtr(e.NextAttemptAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("queue entry", e.ID)
	}
	return nil
}

// GetEntry returns one entry by ID.
func (q *Queries) GetEntry(ctx context.Context, id string) (queue.Entry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Entry{}, apperr.NotFound("queue entry", id)
	}
	return e, err
}

// ListEntries returns entries in the given statuses, FIFO by creation time
// and sequence. No statuses means every entry.
func (q *Queries) ListEntries(ctx context.Context, statuses ...queue.Status) ([]queue.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC, seq ASC`
	return q.queryEntries(ctx, query, args...)
}

// UnfinishedEntries returns every entry that is not completed, FIFO.
func (q *Queries) UnfinishedEntries(ctx context.Context) ([]queue.Entry, error) {
	return q.ListEntries(ctx, queue.StatusPending, queue.StatusProcessing, queue.StatusFailed)
}

// EntityEntries returns the unfinished entries for one entity, FIFO.
func (q *Queries) EntityEntries(ctx context.Context, entityType, entityID string) ([]queue.Entry, error) {
	return q.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND status != 'completed'
		ORDER BY created_at ASC, seq ASC
	`, entityType, entityID)
}

// HasUnfinished reports whether the entity still has entries that block a
// direct write: anything not completed and not terminally failed.
func (q *Queries) HasUnfinished(ctx context.Context, entityType, entityID string) (bool, error) {
	entries, err := q.EntityEntries(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if queue.Blocks(e) {
			return true, nil
		}
	}
	return false, nil
}

// EntryForConflict returns the entry parked on a conflict.
func (q *Queries) EntryForConflict(ctx context.Context, conflictID string) (queue.Entry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM sync_queue
		WHERE conflict_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, conflictID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Entry{}, apperr.NotFound("queue entry for conflict", conflictID)
	}
	return e, err
}

// ResetProcessing returns entries left in processing by a crash to pending.
func (q *Queries) ResetProcessing(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'pending', updated_at = ?
		WHERE status = 'processing'
	`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	return n, nil
}

// CountEntries tallies entries by status.
func (q *Queries) CountEntries(ctx context.Context) (QueueCounts, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status ORDER BY status`)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("count entries: %w", err)
	}
	defer rows.Close()

	var c QueueCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return QueueCounts{}, fmt.Errorf("scan count: %w", err)
		}
		switch queue.Status(status) {
		case queue.StatusPending:
			c.Pending = n
		case queue.StatusProcessing:
			c.Processing = n
		case queue.StatusFailed:
			c.Failed = n
		case queue.StatusCompleted:
			c.Completed = n
		}
	}
	if err := rows.Err(); err != nil {
		return QueueCounts{}, fmt.Errorf("iterate counts: %w", err)
	}
	return c, nil
}

func (q *Queries) queryEntries(ctx context.Context, query string, args ...any) ([]queue.Entry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out := []queue.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func scanEntry(s scanner) (queue.Entry, error) {
	var (
		e                       queue.Entry
		op, status              string
		data, base              sql.NullString
		permanent               int
		lastError, conflictID   sql.NullString
		createdAt, updatedAt    string
		lastAttempt, nextAttemp sql.NullString
	)
	err := s.Scan(&e.Seq, &e.ID, &op, &e.EntityType, &e.EntityID, &data, &base, &e.Attempts, &status,
		&permanent, &lastError, &conflictID, &createdAt, &updatedAt, &lastAttempt, &nextAttemp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan entry: %w", err)
	}

	e.Operation = queue.Operation(op)
	e.Status = queue.Status(status)
	e.Data = scanJSON(data)
	e.Base = scanJSON(base)
	e.Permanent = permanent != 0
	e.LastError = lastError.String
	e.ConflictID = conflictID.String
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, err
	}
	if e.LastAttempt, err = parseTimePtr(lastAttempt); err != nil {
		return e, err
	}
	if e.NextAttemptAt, err = parseTimePtr(nextAttemp); err != nil {
		return e, err
	}
	return e, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
