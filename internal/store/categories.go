package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/category"
)

const categoryColumns = `id, name, min_hours, max_hours, pay_multiplier, is_active, created_at, updated_at, last_sync_at`

// PutCategory inserts or replaces a time category by ID. Overlap checks are
// the caller's job and must run in the same transaction.
func (q *Queries) PutCategory(ctx context.Context, c category.TimeCategory) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO time_categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			min_hours = excluded.min_hours,
			max_hours = excluded.max_hours,
			pay_multiplier = excluded.pay_multiplier,
			is_active = excluded.is_active,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_sync_at = excluded.last_sync_at
	`,
		c.ID,
		c.Name,
		c.MinHours,
		nullFloat(c.MaxHours),
		c.PayMultiplier,
		boolInt(c.IsActive),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
		formatTimePtr(c.LastSyncAt),
	)
	if err != nil {
		return fmt.Errorf("put category: %w", err)
	}
	return nil
}

// GetCategory returns one category by ID.
func (q *Queries) GetCategory(ctx context.Context, id string) (category.TimeCategory, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM time_categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return category.TimeCategory{}, apperr.NotFound("time category", id)
	}
	return c, err
}

// ListCategories returns categories ordered by range. activeOnly drops
// deactivated ones.
func (q *Queries) ListCategories(ctx context.Context, activeOnly bool) ([]category.TimeCategory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM time_categories
		WHERE ? = 0 OR is_active = 1
		ORDER BY min_hours ASC, id ASC
	`, boolInt(activeOnly))
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := []category.TimeCategory{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func scanCategory(s scanner) (category.TimeCategory, error) {
	var (
		c                    category.TimeCategory
		maxHours             sql.NullFloat64
		active               int
		createdAt, updatedAt string
		lastSync             sql.NullString
	)
	err := s.Scan(&c.ID, &c.Name, &c.MinHours, &maxHours, &c.PayMultiplier, &active, &createdAt, &updatedAt, &lastSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan category: %w", err)
	}
	c.MaxHours = floatPtr(maxHours)
	c.IsActive = active != 0
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, err
	}
	if c.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
		return c, err
	}
	return c, nil
}
