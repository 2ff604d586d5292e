// Package mathutil provides common mathematical utility functions.
package mathutil

import "math"

// WithinTolerance checks if two values are within a specified absolute tolerance
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) <= tolerance
}

// WithinRelativeTolerance checks if two values agree to within a relative
// tolerance. Two exact zeros agree; otherwise the difference is scaled by
// the larger magnitude.
func WithinRelativeTolerance(val1, val2, tolerance float64) bool {
	if val1 == val2 {
		return true
	}
	scale := math.Max(math.Abs(val1), math.Abs(val2))
	return math.Abs(val1-val2) <= tolerance*scale
}
