// Package policy compiles site policy files.
//
// A policy is a CUE file declaring the pay categories and automatic
// conflict-resolution rules for a site:
//
//	categories: standard: {name: "Standard", minHours: 0, maxHours: 8, payMultiplier: 1}
//	rules: notes: {entityType: "attendance_record", conflictType: "data", strategy: "use_local"}
//
// The file is unified with an embedded schema, so constraint violations are
// reported with file positions before anything is applied. Map labels become
// IDs.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/conflict"
)

//go:embed schema.cue
var schemaSource string

// Policy is a compiled policy file.
type Policy struct {
	Categories []category.TimeCategory `json:"categories"`
	Rules      []conflict.Rule         `json:"rules"`
}

// CompileError is a policy error with its source position when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads and compiles the policy at path.
func LoadFile(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Compile(filepath.Base(path), src)
}

// Compile checks src against the schema and the category and rule
// invariants, and returns the policy it declares.
func Compile(filename string, src []byte) (*Policy, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("policy schema: %w", err)
	}
	file := ctx.CompileBytes(src, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	p := &Policy{}
	if err := decodeEach(v, "categories", func(item cue.Value) error {
		var c category.TimeCategory
		if err := item.Decode(&c); err != nil {
			return formatCUEError(err)
		}
		c.IsActive = true
		if err := category.Validate(c); err != nil {
			return &CompileError{Field: "categories." + c.ID, Message: err.Error(), Pos: item.Pos()}
		}
		p.Categories = append(p.Categories, c)
		return nil
	}); err != nil {
		return nil, err
	}
	if overlaps := category.DetectConflicts(p.Categories); len(overlaps) > 0 {
		o := overlaps[0]
		return nil, &CompileError{
			Field:   "categories." + o.Category2.ID,
			Message: o.Reason,
			Pos:     v.LookupPath(cue.MakePath(cue.Str("categories"), cue.Str(o.Category2.ID))).Pos(),
		}
	}

	if err := decodeEach(v, "rules", func(item cue.Value) error {
		var r conflict.Rule
		if err := item.Decode(&r); err != nil {
			return formatCUEError(err)
		}
		if err := conflict.ValidateRule(r); err != nil {
			return &CompileError{Field: "rules." + r.ID, Message: err.Error(), Pos: item.Pos()}
		}
		p.Rules = append(p.Rules, r)
		return nil
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeEach(v cue.Value, path string, fn func(cue.Value) error) error {
	list := v.LookupPath(cue.ParsePath(path))
	if !list.Exists() {
		return nil
	}
	iter, err := list.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	ce := &CompileError{Field: "cue", Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		ce.Field = strings.Join(path, ".")
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
