package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
)

const employeeColumns = `id, employee_number, name, role, is_active, created_at, updated_at`

// InsertEmployee registers an employee. A repeated employee number or ID
// fails with DUPLICATE.
func (q *Queries) InsertEmployee(ctx context.Context, e attendance.Employee) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.Number,
		e.Name,
		e.Role,
		boolInt(e.IsActive),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return apperr.Duplicate("employee", e.Number)
	}
	if isPrimaryKeyViolation(err) {
		return apperr.Duplicate("employee", e.ID)
	}
	if err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}

// GetEmployee returns the employee with the given ID.
func (q *Queries) GetEmployee(ctx context.Context, id string) (attendance.Employee, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Employee{}, apperr.NotFound("employee", id)
	}
	return e, err
}

// GetEmployeeByNumber looks an employee up by badge number.
func (q *Queries) GetEmployeeByNumber(ctx context.Context, number string) (attendance.Employee, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE employee_number = ?`, number)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Employee{}, apperr.NotFound("employee", number)
	}
	return e, err
}

// ListEmployees returns all employees ordered by number.
func (q *Queries) ListEmployees(ctx context.Context) ([]attendance.Employee, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		ORDER BY employee_number ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	out := []attendance.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

func scanEmployee(s scanner) (attendance.Employee, error) {
	var (
		e                    attendance.Employee
		active               int
		createdAt, updatedAt string
	)
	if err := s.Scan(&e.ID, &e.Number, &e.Name, &e.Role, &active, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan employee: %w", err)
	}
	e.IsActive = active != 0

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, err
	}
	return e, nil
}
