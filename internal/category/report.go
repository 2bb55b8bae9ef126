package category

import (
	"fmt"
	"strings"
)

// Report renders overlaps one per line for operators scanning legacy data.
func Report(overlaps []Overlap) string {
	if len(overlaps) == 0 {
		return "no overlapping categories\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d overlapping pair(s)\n", len(overlaps))
	for i, o := range overlaps {
		fmt.Fprintf(&b, "%d. %s (%s, %s)\n", i+1, o.Reason, o.Category1.ID, o.Category2.ID)
	}
	return b.String()
}
