// Package category maps worked hours onto pay categories.
//
// A TimeCategory is a named [MinHours, MaxHours] band (MaxHours nil means
// unbounded) with a pay multiplier. Everything here is pure: no storage, no
// clock. Callers pass the category set they want evaluated.
//
// Boundary rule: both ends of a band are inclusive for classification, so a
// value sitting exactly on a shared boundary matches two bands and the band
// with the higher MinHours wins. For overlap detection, bands that merely
// touch (one's MaxHours equals the other's MinHours) are NOT in conflict; only
// intersections of positive length are reported.
package category

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/shiftsync/internal/apperr"
)

// EntityType is the sync dispatch key for time categories.
const EntityType = "time_category"

// TimeCategory is a pay band.
type TimeCategory struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	MinHours      float64    `json:"minHours"`
	MaxHours      *float64   `json:"maxHours,omitempty"`
	PayMultiplier float64    `json:"payMultiplier"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
}

// Contains reports whether hours falls inside the band (both ends inclusive).
func (c TimeCategory) Contains(hours float64) bool {
	if hours < c.MinHours {
		return false
	}
	return c.MaxHours == nil || hours <= *c.MaxHours
}

// upper returns MaxHours, or +Inf when unbounded.
func (c TimeCategory) upper() float64 {
	if c.MaxHours == nil {
		return math.Inf(1)
	}
	return *c.MaxHours
}

// Range renders the band as "4-8" or "8+".
func (c TimeCategory) Range() string {
	lo := strconv.FormatFloat(c.MinHours, 'f', -1, 64)
	if c.MaxHours == nil {
		return lo + "+"
	}
	return lo + "-" + strconv.FormatFloat(*c.MaxHours, 'f', -1, 64)
}

// Assign selects the active category with the greatest MinHours that
// contains hours. Equal MinHours are broken by ID so the result does not
// depend on input order. Returns false when no category matches.
func Assign(hours float64, categories []TimeCategory) (TimeCategory, bool) {
	var (
		best  TimeCategory
		found bool
	)
	for _, c := range categories {
		if !c.IsActive || !c.Contains(hours) {
			continue
		}
		if !found || c.MinHours > best.MinHours || (c.MinHours == best.MinHours && c.ID < best.ID) {
			best = c
			found = true
		}
	}
	return best, found
}

// Overlap describes two active categories whose ranges intersect.
type Overlap struct {
	Category1 TimeCategory `json:"category1"`
	Category2 TimeCategory `json:"category2"`
	Reason    string       `json:"reason"`
}

// overlaps reports whether the two bands intersect with positive length.
func overlaps(a, b TimeCategory) bool {
	return a.MinHours < b.upper() && b.MinHours < a.upper()
}

func overlapReason(a, b TimeCategory) string {
	return fmt.Sprintf("%q [%s] overlaps %q [%s]", a.Name, a.Range(), b.Name, b.Range())
}

// DetectConflicts checks every unordered pair of active categories and
// returns one Overlap per intersecting pair. Categories are ordered by
// MinHours then ID first, so the report is stable.
func DetectConflicts(categories []TimeCategory) []Overlap {
	active := make([]TimeCategory, 0, len(categories))
	for _, c := range categories {
		if c.IsActive {
			active = append(active, c)
		}
	}
	sortByRange(active)

	var out []Overlap
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if overlaps(active[i], active[j]) {
				out = append(out, Overlap{
					Category1: active[i],
					Category2: active[j],
					Reason:    overlapReason(active[i], active[j]),
				})
			}
		}
	}
	return out
}

// ValidateNoConflicts runs the overlap test for candidate against every other
// active category. excludeID skips the stored version of the candidate when
// it is being updated. Inactive candidates never conflict.
func ValidateNoConflicts(candidate TimeCategory, existing []TimeCategory, excludeID string) error {
	if !candidate.IsActive {
		return nil
	}
	for _, other := range existing {
		if !other.IsActive || (excludeID != "" && other.ID == excludeID) {
			continue
		}
		if overlaps(candidate, other) {
			return &apperr.Error{
				Code:    apperr.CodeCategoryConflict,
				Message: overlapReason(candidate, other),
				Field:   "minHours",
				Details: map[string]string{
					"category_id":       candidate.ID,
					"conflicting_id":    other.ID,
					"conflicting_name":  other.Name,
					"conflicting_range": other.Range(),
				},
			}
		}
	}
	return nil
}

// Validate checks the shape of a category before it is written.
func Validate(c TimeCategory) error {
	if strings.TrimSpace(c.Name) == "" {
		return apperr.Validation("name", "is required")
	}
	if math.IsNaN(c.MinHours) || math.IsInf(c.MinHours, 0) || c.MinHours < 0 {
		return apperr.Validation("minHours", "must be a finite number >= 0")
	}
	if c.MaxHours != nil {
		if math.IsNaN(*c.MaxHours) || math.IsInf(*c.MaxHours, 0) {
			return apperr.Validation("maxHours", "must be a finite number")
		}
		if *c.MaxHours <= c.MinHours {
			return apperr.Validation("maxHours", "must be greater than minHours")
		}
	}
	if math.IsNaN(c.PayMultiplier) || c.PayMultiplier <= 0 {
		return apperr.Validation("payMultiplier", "must be > 0")
	}
	return nil
}

// Preview is the result of pricing a number of hours.
type Preview struct {
	Hours            float64       `json:"hours"`
	BaseRate         float64       `json:"baseRate"`
	AssignedCategory *TimeCategory `json:"assignedCategory,omitempty"`
	Multiplier       float64       `json:"multiplier"`
	CalculatedPay    float64       `json:"calculatedPay"`
}

// PreviewPay assigns a category to hours and prices them at baseRate times
// the category multiplier. Hours outside every band are priced at 1x.
func PreviewPay(hours, baseRate float64, categories []TimeCategory) (Preview, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours < 0 {
		return Preview{}, apperr.Validation("hours", "must be a finite number >= 0")
	}
	if math.IsNaN(baseRate) || baseRate < 0 {
		return Preview{}, apperr.Validation("baseRate", "must be >= 0")
	}

	p := Preview{Hours: hours, BaseRate: baseRate, Multiplier: 1}
	if c, ok := Assign(hours, categories); ok {
		p.AssignedCategory = &c
		p.Multiplier = c.PayMultiplier
	}
	p.CalculatedPay = round2(hours * baseRate * p.Multiplier)
	return p, nil
}

// Active filters categories down to the active ones.
func Active(categories []TimeCategory) []TimeCategory {
	out := make([]TimeCategory, 0, len(categories))
	for _, c := range categories {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

func sortByRange(cs []TimeCategory) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].MinHours != cs[j].MinHours {
			return cs[i].MinHours < cs[j].MinHours
		}
		return cs[i].ID < cs[j].ID
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
