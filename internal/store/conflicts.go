package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/conflict"
)

const conflictColumns = `id, entity_type, entity_id, queue_entry_id, local_data, remote_data,
	conflict_type, conflict_fields, status, resolution, resolved_by, resolved_at, created_at`

// InsertConflict records a newly detected conflict.
func (q *Queries) InsertConflict(ctx context.Context, c conflict.Record) error {
	fields, err := marshalStrings(c.ConflictFields)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO sync_conflicts (`+conflictColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.EntityType,
		c.EntityID,
		c.QueueEntryID,
		rawJSON(c.LocalData),
		rawJSON(c.RemoteData),
		string(c.ConflictType),
		fields,
		string(c.Status),
		emptyAsNull(string(c.Resolution)),
		emptyAsNull(c.ResolvedBy),
		formatTimePtr(c.ResolvedAt),
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

// CloseConflict stores a conflict's resolution. It only succeeds while the
// conflict is still pending, so two resolvers cannot both win.
func (q *Queries) CloseConflict(ctx context.Context, c conflict.Record) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_conflicts
		SET status = ?, resolution = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'
	`,
		string(c.Status),
		emptyAsNull(string(c.Resolution)),
		emptyAsNull(c.ResolvedBy),
		formatTimePtr(c.ResolvedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("close conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Validation("conflictId", "conflict %s is not pending", c.ID)
	}
	return nil
}

// GetConflict returns one conflict by ID.
func (q *Queries) GetConflict(ctx context.Context, id string) (conflict.Record, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return conflict.Record{}, apperr.NotFound("conflict", id)
	}
	return c, err
}

// ListConflicts returns conflicts oldest first. An empty status lists all.
func (q *Queries) ListConflicts(ctx context.Context, status conflict.Status) ([]conflict.Record, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflicts
		WHERE ? = '' OR status = ?
		ORDER BY created_at ASC, id ASC
	`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	out := []conflict.Record{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return out, nil
}

// InsertAudit appends a resolution audit entry.
func (q *Queries) InsertAudit(ctx context.Context, a conflict.AuditEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO conflict_audit (id, conflict_id, resolution, actor, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.ConflictID, string(a.Resolution), a.Actor, a.Reason, formatTime(a.Timestamp))
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail, oldest first. An empty conflictID
// lists every entry.
func (q *Queries) ListAudit(ctx context.Context, conflictID string) ([]conflict.AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, conflict_id, resolution, actor, reason, timestamp
		FROM conflict_audit
		WHERE ? = '' OR conflict_id = ?
		ORDER BY seq ASC
	`, conflictID, conflictID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	out := []conflict.AuditEntry{}
	for rows.Next() {
		var (
			a   conflict.AuditEntry
			res string
			ts  string
		)
		if err := rows.Scan(&a.ID, &a.ConflictID, &res, &a.Actor, &a.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.Resolution = conflict.Resolution(res)
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

// PutRule inserts or replaces an auto-resolution rule.
func (q *Queries) PutRule(ctx context.Context, r conflict.Rule) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO resolution_rules (id, entity_type, conflict_type, strategy, priority, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			conflict_type = excluded.conflict_type,
			strategy = excluded.strategy,
			priority = excluded.priority,
			enabled = excluded.enabled
	`, r.ID, r.EntityType, r.ConflictType, string(r.Strategy), r.Priority, boolInt(r.Enabled))
	if err != nil {
		return fmt.Errorf("put rule: %w", err)
	}
	return nil
}

// DeleteRules removes every rule. Used when a policy replaces the table.
func (q *Queries) DeleteRules(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM resolution_rules`); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}
	return nil
}

// ListRules returns all rules ascending by priority.
func (q *Queries) ListRules(ctx context.Context) ([]conflict.Rule, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, entity_type, conflict_type, strategy, priority, enabled
		FROM resolution_rules
		ORDER BY priority ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	out := []conflict.Rule{}
	for rows.Next() {
		var (
			r        conflict.Rule
			strategy string
			enabled  int
		)
		if err := rows.Scan(&r.ID, &r.EntityType, &r.ConflictType, &strategy, &r.Priority, &enabled); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Strategy = conflict.Strategy(strategy)
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

func scanConflict(s scanner) (conflict.Record, error) {
	var (
		c                      conflict.Record
		local, remote          sql.NullString
		typ, fields, status    string
		resolution, resolvedBy sql.NullString
		resolvedAt             sql.NullString
		createdAt              string
	)
	err := s.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.QueueEntryID, &local, &remote,
		&typ, &fields, &status, &resolution, &resolvedBy, &resolvedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan conflict: %w", err)
	}

	c.LocalData = scanJSON(local)
	c.RemoteData = scanJSON(remote)
	c.ConflictType = conflict.Type(typ)
	c.Status = conflict.Status(status)
	c.Resolution = conflict.Resolution(resolution.String)
	c.ResolvedBy = resolvedBy.String
	if c.ConflictFields, err = unmarshalStrings(fields); err != nil {
		return c, err
	}
	if c.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	return c, nil
}
