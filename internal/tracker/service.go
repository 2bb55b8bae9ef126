// Package tracker is the device-side attendance service.
//
// Every mutation follows the same shape: take the employee's lock, run the
// state machine against the stored open shift, write the result and its sync
// queue entry in one transaction, release the lock, then ask the syncer to
// flush. The local write is durable before any network call happens, so a
// crash between the two leaves a queued entry rather than a lost change.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/clock"
	"github.com/roach88/shiftsync/internal/ids"
	"github.com/roach88/shiftsync/internal/keylock"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/store"
	"github.com/roach88/shiftsync/internal/syncer"
)

// Submitter is the part of the syncer the tracker writes through.
type Submitter interface {
	Stage(ctx context.Context, q *store.Queries, ch syncer.Change) (queue.Entry, error)
	Flush(ctx context.Context, e queue.Entry) (syncer.SubmitResult, error)
}

// Service records shifts and manages time categories.
//
// Thread-safety model:
//   - Safe for concurrent use.
//   - Mutations for one employee are serialized, so two concurrent clock-ins
//     cannot both observe "no open shift". The store's partial unique index
//     backs this up across processes.
//   - Category writes are serialized among themselves so overlap checks see
//     a stable set.
type Service struct {
	store  *store.Store
	sync   Submitter
	clock  clock.Clock
	ids    ids.Generator
	logger *slog.Logger

	employees  keylock.Map
	categories keylock.Map
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDs sets the generator for record, employee and audit IDs.
func WithIDs(g ids.Generator) Option {
	return func(s *Service) { s.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service over st that hands every change to sub.
func New(st *store.Store, sub Submitter, opts ...Option) *Service {
	s := &Service{
		store:  st,
		sync:   sub,
		clock:  clock.System{},
		ids:    ids.UUIDv7{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is a local write together with what the syncer did with it.
type Outcome struct {
	Record attendance.Record   `json:"record"`
	Sync   syncer.SubmitResult `json:"sync"`
}

// ClockInOptions tweaks a clock-in. The zero value clocks in now.
type ClockInOptions struct {
	At    *time.Time
	Notes *string
}

// RegisterEmployee adds an employee. Numbers are unique.
func (s *Service) RegisterEmployee(ctx context.Context, number, name, role string) (attendance.Employee, error) {
	r, err := auth.ParseRole(role)
	if err != nil {
		return attendance.Employee{}, err
	}
	now := s.clock.Now()
	e := attendance.Employee{
		ID:        s.ids.NewID(),
		Number:    strings.TrimSpace(number),
		Name:      strings.TrimSpace(name),
		Role:      string(r),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := attendance.ValidateEmployee(e); err != nil {
		return attendance.Employee{}, err
	}
	if err := s.store.InsertEmployee(ctx, e); err != nil {
		return attendance.Employee{}, err
	}
	s.logger.Info("employee registered", "employee_id", e.ID, "number", e.Number)
	return e, nil
}

// Employee looks an employee up by ID, falling back to the badge number.
func (s *Service) Employee(ctx context.Context, ref string) (attendance.Employee, error) {
	e, err := s.store.GetEmployee(ctx, ref)
	if apperr.Is(err, apperr.CodeNotFound) {
		return s.store.GetEmployeeByNumber(ctx, ref)
	}
	return e, err
}

// Employees lists every registered employee.
func (s *Service) Employees(ctx context.Context) ([]attendance.Employee, error) {
	return s.store.ListEmployees(ctx)
}

// ClockIn opens a shift. It fails with ALREADY_CLOCKED_IN when the employee
// is on shift, and NOT_FOUND for unknown or inactive employees.
func (s *Service) ClockIn(ctx context.Context, employeeRef string, opts ClockInOptions) (Outcome, error) {
	emp, err := s.activeEmployee(ctx, employeeRef)
	if err != nil {
		return Outcome{}, err
	}

	unlock := s.employees.Lock(emp.ID)
	var (
		rec   attendance.Record
		entry queue.Entry
	)
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		open, err := q.OpenRecord(ctx, emp.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		at := now
		if opts.At != nil {
			at = *opts.At
		}
		rec, err = attendance.ClockIn(s.ids.NewID(), emp.ID, open, at, now, opts.Notes)
		if err != nil {
			return err
		}
		if err := q.InsertRecord(ctx, rec); err != nil {
			return err
		}
		entry, err = s.stageRecord(ctx, q, queue.OpCreate, rec, nil)
		return err
	})
	unlock()
	if err != nil {
		return Outcome{}, fmt.Errorf("clock in: %w", err)
	}

	s.logger.Info("clocked in", "employee_id", emp.ID, "record_id", rec.ID)
	return s.flushRecord(ctx, rec, entry)
}

// ClockOut closes the employee's open shift, deriving total hours and the
// pay category from the categories active now. It fails with
// NOT_CLOCKED_IN when there is no open shift.
func (s *Service) ClockOut(ctx context.Context, employeeRef string, at *time.Time) (Outcome, error) {
	emp, err := s.activeEmployee(ctx, employeeRef)
	if err != nil {
		return Outcome{}, err
	}

	unlock := s.employees.Lock(emp.ID)
	var (
		rec   attendance.Record
		entry queue.Entry
	)
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		open, err := q.OpenRecord(ctx, emp.ID)
		if err != nil {
			return err
		}
		cats, err := q.ListCategories(ctx, true)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		when := now
		if at != nil {
			when = *at
		}
		rec, err = attendance.ClockOut(open, emp.ID, when, now, cats)
		if err != nil {
			return err
		}
		if err := q.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		entry, err = s.stageRecord(ctx, q, queue.OpUpdate, rec, open)
		return err
	})
	unlock()
	if err != nil {
		return Outcome{}, fmt.Errorf("clock out: %w", err)
	}

	s.logger.Info("clocked out",
		"employee_id", emp.ID,
		"record_id", rec.ID,
		"total_hours", *rec.TotalHours,
	)
	return s.flushRecord(ctx, rec, entry)
}

// CurrentShift reports the employee's open shift and how long it has run.
func (s *Service) CurrentShift(ctx context.Context, employeeRef string) (attendance.Shift, error) {
	emp, err := s.Employee(ctx, employeeRef)
	if err != nil {
		return attendance.Shift{}, err
	}
	open, err := s.store.OpenRecord(ctx, emp.ID)
	if err != nil {
		return attendance.Shift{}, err
	}
	return attendance.CurrentShift(open, s.clock.Now()), nil
}

// Records lists an employee's shifts. An empty ref lists everyone's.
func (s *Service) Records(ctx context.Context, employeeRef string) ([]attendance.Record, error) {
	if employeeRef == "" {
		return s.store.ListRecords(ctx, "")
	}
	emp, err := s.Employee(ctx, employeeRef)
	if err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, emp.ID)
}

// Record returns one shift.
func (s *Service) Record(ctx context.Context, id string) (attendance.Record, error) {
	return s.store.GetRecord(ctx, id)
}

// Adjustments lists the audit trail of manual corrections to a record.
func (s *Service) Adjustments(ctx context.Context, recordID string) ([]attendance.Adjustment, error) {
	return s.store.ListAdjustments(ctx, recordID)
}

// AdjustTime changes one field of a completed record from its text form.
func (s *Service) AdjustTime(ctx context.Context, recordID, field, value, reason string, actor auth.Actor) (Outcome, error) {
	f, err := attendance.ParseField(field)
	if err != nil {
		return Outcome{}, err
	}
	req, err := attendance.SingleField(f, value, reason, actor.EmployeeID)
	if err != nil {
		return Outcome{}, err
	}
	return s.Adjust(ctx, recordID, req, actor)
}

// Adjust applies a manual correction. Employees may correct their own
// shifts; correcting anyone else's needs a manager. Every changed field
// leaves an audit row.
func (s *Service) Adjust(ctx context.Context, recordID string, req attendance.AdjustRequest, actor auth.Actor) (Outcome, error) {
	current, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return Outcome{}, err
	}
	if err := auth.RequireSelfOrManager(actor, current.EmployeeID, "adjust record"); err != nil {
		return Outcome{}, err
	}
	req.AdjustedBy = actor.EmployeeID

	unlock := s.employees.Lock(current.EmployeeID)
	var (
		rec     attendance.Record
		changes []attendance.Adjustment
		entry   queue.Entry
	)
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		before, err := q.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		cats, err := q.ListCategories(ctx, true)
		if err != nil {
			return err
		}
		rec, changes, err = attendance.Adjust(before, req, s.clock.Now(), cats, s.ids.NewID)
		if err != nil {
			return err
		}
		if err := q.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		for _, a := range changes {
			if err := q.InsertAdjustment(ctx, a); err != nil {
				return err
			}
		}
		entry, err = s.stageRecord(ctx, q, queue.OpUpdate, rec, &before)
		return err
	})
	unlock()
	if err != nil {
		return Outcome{}, fmt.Errorf("adjust record: %w", err)
	}

	for _, a := range changes {
		s.logger.Info("record adjusted",
			"record_id", rec.ID,
			"field", a.Field,
			"adjusted_by", a.AdjustedBy,
		)
	}
	return s.flushRecord(ctx, rec, entry)
}

func (s *Service) activeEmployee(ctx context.Context, ref string) (attendance.Employee, error) {
	if strings.TrimSpace(ref) == "" {
		return attendance.Employee{}, apperr.Validation("employeeId", "is required")
	}
	emp, err := s.Employee(ctx, ref)
	if err != nil {
		return attendance.Employee{}, err
	}
	if !emp.IsActive {
		return attendance.Employee{}, apperr.NotFound("active employee", ref)
	}
	return emp, nil
}

func (s *Service) stageRecord(ctx context.Context, q *store.Queries, op queue.Operation, rec attendance.Record, base *attendance.Record) (queue.Entry, error) {
	ch := syncer.Change{
		Operation:  op,
		EntityType: attendance.EntityType,
		EntityID:   rec.ID,
	}
	var err error
	if ch.Data, err = json.Marshal(rec); err != nil {
		return queue.Entry{}, fmt.Errorf("encode record: %w", err)
	}
	if base != nil {
		if ch.Base, err = json.Marshal(base); err != nil {
			return queue.Entry{}, fmt.Errorf("encode base: %w", err)
		}
	}
	return s.sync.Stage(ctx, q, ch)
}

// flushRecord pushes a committed change and rereads the record so the
// caller sees its sync status. A flush error does not undo the local write;
// the entry stays queued for the next drain.
func (s *Service) flushRecord(ctx context.Context, rec attendance.Record, e queue.Entry) (Outcome, error) {
	res, err := s.sync.Flush(ctx, e)
	if err != nil {
		s.logger.Warn("flush failed; change stays queued",
			"entry_id", e.ID,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"error", err,
		)
		res = syncer.SubmitResult{Queued: true, SyncStatus: attendance.SyncPending, Entry: e}
	}
	cur, err := s.store.GetRecord(ctx, rec.ID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: cur, Sync: res}, nil
}
