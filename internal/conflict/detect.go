// Package conflict detects divergence between a queued local change and the
// authoritative copy, and decides how configured rules resolve it.
//
// Detection works on Snapshots: the JSON object form of an entity. Comparing
// untyped objects keeps the detector independent of the entity kinds the
// syncer dispatches on.
package conflict

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Type classifies a detected divergence.
type Type string

const (
	// TypeDeletion: exactly one side no longer exists.
	TypeDeletion Type = "deletion"

	// TypeTimestamp: both sides changed since the last sync and disagree.
	TypeTimestamp Type = "timestamp"

	// TypeData: the sides disagree but did not both change since the last sync.
	TypeData Type = "data"
)

// MetadataFields are never compared. They change on every write without
// carrying user intent.
var MetadataFields = map[string]bool{
	"id":         true,
	"createdAt":  true,
	"updatedAt":  true,
	"lastSyncAt": true,
	"syncStatus": true,
}

// Snapshot is the JSON object form of one entity. A nil Snapshot means the
// entity does not exist on that side.
type Snapshot map[string]any

// SnapshotOf converts a typed entity into its snapshot.
func SnapshotOf(v any) (Snapshot, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return ParseSnapshot(raw)
}

// ParseSnapshot decodes raw JSON. Empty input and JSON null yield nil.
func ParseSnapshot(raw json.RawMessage) (Snapshot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return s, nil
}

// Time reads an RFC 3339 timestamp field. ok is false when it is absent or
// malformed.
func (s Snapshot) Time(field string) (time.Time, bool) {
	v, _ := s[field].(string)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Detection is the outcome of comparing two snapshots.
type Detection struct {
	HasConflict bool     `json:"hasConflict"`
	Type        Type     `json:"conflictType,omitempty"`
	Fields      []string `json:"conflictFields,omitempty"`
}

// DetectConflict compares local against remote. Checks run in priority order:
// both absent is no conflict; one absent is a deletion conflict; otherwise the
// non-metadata fields are diffed and any difference is a timestamp conflict
// when both sides changed after lastSyncAt (or lastSyncAt is unknown) and a
// data conflict when they did not. Equal fields are no conflict.
func DetectConflict(local, remote Snapshot, lastSyncAt *time.Time) Detection {
	if local == nil && remote == nil {
		return Detection{}
	}
	if local == nil || remote == nil {
		return Detection{HasConflict: true, Type: TypeDeletion}
	}

	fields := Diff(local, remote)
	if len(fields) == 0 {
		return Detection{}
	}

	typ := TypeData
	if bothChangedSince(local, remote, lastSyncAt) {
		typ = TypeTimestamp
	}
	return Detection{HasConflict: true, Type: typ, Fields: fields}
}

func bothChangedSince(local, remote Snapshot, lastSyncAt *time.Time) bool {
	if lastSyncAt == nil {
		return true
	}
	lu, lok := local.Time("updatedAt")
	ru, rok := remote.Time("updatedAt")
	// An unknown modification time counts as modified.
	return (!lok || lu.After(*lastSyncAt)) && (!rok || ru.After(*lastSyncAt))
}

// Diff returns the sorted names of non-metadata fields whose values differ.
// A missing field equals an explicit null.
func Diff(a, b Snapshot) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	check := func(k string) {
		if seen[k] || MetadataFields[k] {
			return
		}
		seen[k] = true
		if !equalValue(a[k], b[k]) {
			out = append(out, k)
		}
	}
	for k := range a {
		check(k)
	}
	for k := range b {
		check(k)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two snapshots agree on every compared field.
func Equal(a, b Snapshot) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return len(Diff(a, b)) == 0
}

// equalValue compares decoded JSON values. Strings compare after NFC
// normalization, and strings that are both timestamps compare as instants.
func equalValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		if at, err := time.Parse(time.RFC3339Nano, av); err == nil {
			if bt, err := time.Parse(time.RFC3339Nano, bv); err == nil {
				return at.Equal(bt)
			}
		}
		return norm.NFC.String(av) == norm.NFC.String(bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !equalValue(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}
