package conflict

import (
	"sort"

	"github.com/roach88/shiftsync/internal/apperr"
)

// Wildcard matches any entity type or conflict type in a rule.
const Wildcard = "*"

// RuleActor is recorded as the actor of automatic resolutions.
const RuleActor = "system:auto-resolve"

// Strategy is what an automatic rule does with a matching conflict.
type Strategy string

const (
	StrategyUseLocal  Strategy = "use_local"
	StrategyUseRemote Strategy = "use_remote"

	// StrategyUseLatest keeps the side with the greater updatedAt.
	StrategyUseLatest Strategy = "use_latest"

	StrategyIgnore Strategy = "ignore"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyUseLocal, StrategyUseRemote, StrategyUseLatest, StrategyIgnore:
		return true
	}
	return false
}

// Rule maps a class of conflicts to a strategy.
type Rule struct {
	ID           string   `json:"id"`
	EntityType   string   `json:"entityType"`
	ConflictType string   `json:"conflictType"`
	Strategy     Strategy `json:"strategy"`
	Priority     int      `json:"priority"`
	Enabled      bool     `json:"enabled"`
}

// Matches reports whether r applies to the given entity and conflict type.
func (r Rule) Matches(entityType string, typ Type) bool {
	return r.Enabled &&
		(r.EntityType == Wildcard || r.EntityType == entityType) &&
		(r.ConflictType == Wildcard || r.ConflictType == string(typ))
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r Rule) error {
	if r.EntityType == "" {
		return apperr.Validation("entityType", "is required (use %q for any)", Wildcard)
	}
	switch Type(r.ConflictType) {
	case TypeDeletion, TypeTimestamp, TypeData, Wildcard:
	default:
		return apperr.Validation("conflictType", "must be deletion, timestamp, data or %q; got %q", Wildcard, r.ConflictType)
	}
	if !r.Strategy.Valid() {
		return apperr.Validation("strategy", "must be use_local, use_remote, use_latest or ignore; got %q", r.Strategy)
	}
	return nil
}

// MatchRule evaluates rules ascending by priority (ties by ID) and returns the
// first match.
func MatchRule(rules []Rule, entityType string, typ Type) (Rule, bool) {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	for _, r := range sorted {
		if r.Matches(entityType, typ) {
			return r, true
		}
	}
	return Rule{}, false
}

// Decide turns a strategy into a concrete resolution for one conflict.
//
// use_latest compares updatedAt. When either side is absent or lacks a
// timestamp, or the timestamps are equal, the authoritative copy wins.
func Decide(s Strategy, local, remote Snapshot) (Resolution, error) {
	switch s {
	case StrategyUseLocal:
		return UseLocal, nil
	case StrategyUseRemote:
		return UseRemote, nil
	case StrategyIgnore:
		return Ignore, nil
	case StrategyUseLatest:
		if local == nil || remote == nil {
			return UseRemote, nil
		}
		lu, lok := local.Time("updatedAt")
		ru, rok := remote.Time("updatedAt")
		if lok && rok && lu.After(ru) {
			return UseLocal, nil
		}
		return UseRemote, nil
	}
	return "", apperr.Validation("strategy", "unknown strategy %q", s)
}
