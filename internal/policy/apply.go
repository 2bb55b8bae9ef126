package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/conflict"
	"github.com/roach88/shiftsync/internal/tracker"
)

// CategoryAdmin manages the local category set.
type CategoryAdmin interface {
	Categories(ctx context.Context, activeOnly bool) ([]category.TimeCategory, error)
	SaveCategory(ctx context.Context, c category.TimeCategory, actor auth.Actor) (tracker.CategoryOutcome, error)
	DeactivateCategory(ctx context.Context, id string, actor auth.Actor) (tracker.CategoryOutcome, error)
}

// RuleStore replaces the auto-resolution rule set.
type RuleStore interface {
	SetRules(ctx context.Context, rules []conflict.Rule, actor auth.Actor) error
}

// Summary counts what Apply changed.
type Summary struct {
	Saved       []string `json:"saved"`
	Deactivated []string `json:"deactivated"`
	Unchanged   []string `json:"unchanged"`
	Rules       int      `json:"rules"`
}

// Apply makes the device's categories and rules match p.
//
// Active categories missing from p are deactivated first, then new or
// changed ones are saved in range order. Unchanged categories are left
// alone so they generate no sync traffic. Rules are replaced as a whole.
// Apply stops at the first error; what was applied before it stays.
func Apply(ctx context.Context, p *Policy, cats CategoryAdmin, rules RuleStore, actor auth.Actor, logger *slog.Logger) (Summary, error) {
	if err := auth.RequireAdmin(actor, "apply policy"); err != nil {
		return Summary{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	current, err := cats.Categories(ctx, false)
	if err != nil {
		return Summary{}, err
	}
	existing := make(map[string]category.TimeCategory, len(current))
	for _, c := range current {
		existing[c.ID] = c
	}
	wanted := make(map[string]bool, len(p.Categories))
	for _, c := range p.Categories {
		wanted[c.ID] = true
	}

	var sum Summary
	for _, c := range current {
		if !c.IsActive || wanted[c.ID] {
			continue
		}
		if _, err := cats.DeactivateCategory(ctx, c.ID, actor); err != nil {
			return sum, fmt.Errorf("deactivate %s: %w", c.ID, err)
		}
		sum.Deactivated = append(sum.Deactivated, c.ID)
	}

	ordered := append([]category.TimeCategory(nil), p.Categories...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MinHours < ordered[j].MinHours })
	for _, c := range ordered {
		if old, ok := existing[c.ID]; ok && old.IsActive && sameBand(old, c) {
			sum.Unchanged = append(sum.Unchanged, c.ID)
			continue
		}
		if _, err := cats.SaveCategory(ctx, c, actor); err != nil {
			return sum, fmt.Errorf("save %s: %w", c.ID, err)
		}
		sum.Saved = append(sum.Saved, c.ID)
	}

	if err := rules.SetRules(ctx, p.Rules, actor); err != nil {
		return sum, fmt.Errorf("set rules: %w", err)
	}
	sum.Rules = len(p.Rules)

	logger.Info("policy applied",
		"saved", len(sum.Saved),
		"deactivated", len(sum.Deactivated),
		"unchanged", len(sum.Unchanged),
		"rules", sum.Rules,
	)
	return sum, nil
}

func sameBand(a, b category.TimeCategory) bool {
	if a.Name != b.Name || a.MinHours != b.MinHours || a.PayMultiplier != b.PayMultiplier {
		return false
	}
	if a.MaxHours == nil || b.MaxHours == nil {
		return a.MaxHours == nil && b.MaxHours == nil
	}
	return *a.MaxHours == *b.MaxHours
}
