// Package aggregate computes median session durations per segment value.
package aggregate

import (
	"fmt"
	"slices"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

// Result maps a dimension to the median duration, in seconds, of every
// observed segment value.
type Result map[models.Dimension]map[string]float64

// Aggregate groups sessions by each requested dimension and takes the
// median duration within every group. Duplicate dimensions are ignored.
//
// A dimension requested over zero sessions maps to an empty set of values;
// the returned warnings then include one aggregation error per dimension.
func Aggregate(sessions []models.Session, dims []models.Dimension) (Result, []error) {
	result := make(Result, len(dims))
	var warnings []error

	for _, dim := range dims {
		if _, seen := result[dim]; seen {
			continue
		}
		medians := make(map[string]float64)
		result[dim] = medians

		if len(sessions) == 0 {
			warnings = append(warnings, coreerrors.Wrap(
				fmt.Errorf("no sessions to aggregate for %s", dim),
				coreerrors.CategoryAggregation, "aggregation_no_sessions", "", false))
			continue
		}

		groups := make(map[string][]float64)
		for _, session := range sessions {
			value := dim.Value(session)
			groups[value] = append(groups[value], session.DurationSeconds)
		}
		for value, durations := range groups {
			medians[value] = Median(durations)
		}
	}
	return result, warnings
}

// Median returns the standard median of values, averaging the two middle
// values for an even count. The input is not modified. Median of an empty
// slice is 0.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
